package obkv

// OperationResult is a tagged result: either a retrieved Row (Get) or a
// count of affected rows (every write). It carries no ServerCode:
// non-success codes surface as errors rather than being represented here
// (see §7).
type OperationResult struct {
	isRow        bool
	row          *Row
	affectedRows uint64
}

// NewRowResult wraps a retrieved Row.
func NewRowResult(row *Row) OperationResult {
	return OperationResult{isRow: true, row: row}
}

// NewAffectedRowsResult wraps an affected-row count.
func NewAffectedRowsResult(n uint64) OperationResult {
	return OperationResult{affectedRows: n}
}

// IsRow reports whether the result carries a retrieved Row.
func (r OperationResult) IsRow() bool { return r.isRow }

// Row returns the retrieved Row, or nil if this result is an affected-rows
// count.
func (r OperationResult) Row() *Row { return r.row }

// AffectedRows returns the affected-row count, or 0 if this result carries
// a Row.
func (r OperationResult) AffectedRows() uint64 { return r.affectedRows }

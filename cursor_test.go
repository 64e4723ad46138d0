package obkv

import (
	"testing"
)

func seedCounting(t *testing.T, tbl *Table, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := tbl.Insert(t.Context(), []Value{NewInt64(int64(i))}, []string{"v"}, []Value{NewInt64(int64(i * 10))})
		if err != nil {
			t.Fatalf("seed insert %d: %v", i, err)
		}
	}
}

func TestCursorInclusiveExclusiveRange(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t)
	c := newTestClient(t, srv)
	tbl := c.Table("items")
	seedCounting(t, tbl, 10)

	q, err := NewQueryBuilder("items").
		AddScanRange([]Value{NewInt64(2)}, true, []Value{NewInt64(5)}, false).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cur := tbl.Query(q)
	t.Cleanup(func() { _ = cur.Close(t.Context()) })

	var got []int64
	for {
		row, ok, err := cur.Next(t.Context())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		v, _ := mustColumn(t, row, "v").Int64()
		got = append(got, v)
	}

	want := []int64{20, 30, 40}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCursorReverseOrder(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t)
	c := newTestClient(t, srv)
	tbl := c.Table("items")
	seedCounting(t, tbl, 5)

	q, err := NewQueryBuilder("items").ScanOrder(false).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cur := tbl.Query(q)
	t.Cleanup(func() { _ = cur.Close(t.Context()) })

	var got []int64
	for {
		row, ok, err := cur.Next(t.Context())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		v, _ := mustColumn(t, row, "v").Int64()
		got = append(got, v)
	}

	want := []int64{40, 30, 20, 10, 0}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestCursorBatchedAcrossMultipleFetches(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t)
	c := newTestClient(t, srv)
	tbl := c.Table("items")
	seedCounting(t, tbl, 7)

	q, err := NewQueryBuilder("items").BatchSize(3).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	cur := tbl.Query(q)
	t.Cleanup(func() { _ = cur.Close(t.Context()) })

	count := 0
	for {
		_, ok, err := cur.Next(t.Context())
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if !ok {
			break
		}
		count++
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestCursorNextAfterCloseReturnsErrAlreadyClosed(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t)
	c := newTestClient(t, srv)
	tbl := c.Table("items")
	seedCounting(t, tbl, 3)

	q, err := NewQueryBuilder("items").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cur := tbl.Query(q)

	if err := cur.Close(t.Context()); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, _, err = cur.Next(t.Context())
	if err != ErrAlreadyClosed {
		t.Errorf("err = %v, want ErrAlreadyClosed", err)
	}
}

func TestCursorCloseIsIdempotent(t *testing.T) {
	t.Parallel()
	srv, _ := newFakeServer(t)
	c := newTestClient(t, srv)
	tbl := c.Table("items")
	seedCounting(t, tbl, 1)

	q, err := NewQueryBuilder("items").Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cur := tbl.Query(q)

	if _, _, err := cur.Next(t.Context()); err != nil {
		t.Fatalf("next: %v", err)
	}
	if err := cur.Close(t.Context()); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := cur.Close(t.Context()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestCursorSessionExpiredSurfacesAsClientError(t *testing.T) {
	t.Parallel()
	srv, ft := newFakeServer(t)
	c := newTestClient(t, srv)
	tbl := c.Table("items")
	seedCounting(t, tbl, 5)

	q, err := NewQueryBuilder("items").BatchSize(2).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cur := tbl.Query(q)
	t.Cleanup(func() { _ = cur.Close(t.Context()) })

	// Drain the first fetched batch (2 rows) without triggering another
	// RPC; the second fetch, below, is what hits the now-missing session.
	for i := 0; i < 2; i++ {
		if _, _, err := cur.Next(t.Context()); err != nil {
			t.Fatalf("next %d: %v", i, err)
		}
	}

	// Simulate the server forgetting the scan session (e.g. it expired)
	// between fetches.
	ft.mu.Lock()
	for id := range ft.sessions {
		delete(ft.sessions, id)
	}
	ft.mu.Unlock()

	if _, _, err := cur.Next(t.Context()); err != ErrSessionExpired {
		t.Errorf("err = %v, want ErrSessionExpired", err)
	}
}

package transport

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/oceanbase/obkv-table-client-go/wire"
)

// Credentials identifies a tenant/database/user to log into on a freshly
// dialed Connection, grounded on the teacher's DSN-parsing shape
// (proxy/mysql handshake) but carried as a typed struct instead of a
// connection string.
type Credentials struct {
	Tenant   string
	Database string
	User     string
	Password string
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b))) //nolint:gosec // well under 4GiB in practice
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readLenPrefixed(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// loginPayload is the wire.Payload sent on wire.ChannelLogin when a
// Connection transitions Handshaking -> Ready.
type loginPayload struct {
	creds Credentials
}

func (p *loginPayload) ChannelID() wire.ChannelID { return wire.ChannelLogin }

func (p *loginPayload) Encode(w io.Writer) error {
	var buf bytes.Buffer
	writeLenPrefixed(&buf, []byte(p.creds.Tenant))
	writeLenPrefixed(&buf, []byte(p.creds.Database))
	writeLenPrefixed(&buf, []byte(p.creds.User))
	writeLenPrefixed(&buf, []byte(p.creds.Password))
	_, err := w.Write(buf.Bytes())
	return err
}

func (p *loginPayload) Decode(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	br := bytes.NewReader(raw)
	tenant, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	db, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	user, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	pass, err := readLenPrefixed(br)
	if err != nil {
		return err
	}
	p.creds = Credentials{Tenant: string(tenant), Database: string(db), User: string(user), Password: string(pass)}
	return nil
}

// loginResultPayload carries nothing beyond the response footer; a success
// footer (ErrorCode == 0) is the entire signal that login succeeded.
type loginResultPayload struct{}

func (p *loginResultPayload) ChannelID() wire.ChannelID { return 0 }
func (p *loginResultPayload) Encode(w io.Writer) error  { return nil }
func (p *loginResultPayload) Decode(r io.Reader) error  { _, err := io.ReadAll(r); return err }

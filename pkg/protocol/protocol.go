// Package protocol implements the one-request-per-connection wire format of
// the stats socket.
//
// A client writes a mode byte, optionally followed by filler up to a newline,
// a NUL byte, or the request cap. Only the first byte is interpreted. The
// server answers with a single JSON document:
//
//	{"error": 0, "body": {"key": 1}}
//
// and closes the connection.
package protocol

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/hyp3rd/ewrap"
)

// Mode selects the operation requested by a client.
type Mode byte

const (
	// ModeGet returns every counter in the response body.
	ModeGet Mode = 'g'
	// ModeReset zeroes every counter and keeps the keys.
	ModeReset Mode = 'r'
	// ModePing answers with an empty body.
	ModePing Mode = '0'
	// ModeNone is assumed when the client sent nothing; it is not a valid request.
	ModeNone Mode = 'a'
)

// Status codes carried in Response.Error.
const (
	StatusOK    = 0
	StatusError = 1
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeGet:
		return "get"
	case ModeReset:
		return "reset"
	case ModePing:
		return "ping"
	default:
		return "unknown(" + string(rune(m)) + ")"
	}
}

// Valid reports whether the server knows how to answer m.
func (m Mode) Valid() bool {
	switch m {
	case ModeGet, ModeReset, ModePing:
		return true
	default:
		return false
	}
}

// Request is what the server extracted from a connection.
type Request struct {
	Mode Mode
	// Read counts the bytes consumed before the delimiter, EOF or cap.
	Read int
}

// Empty reports whether the client sent no payload at all.
func (r Request) Empty() bool {
	return r.Read == 0
}

// ReadRequest scans at most limit bytes from r, one byte at a time, stopping
// at '\n', NUL or EOF. The first byte becomes the mode; the rest is ignored.
// A read error is returned together with whatever was scanned so far.
func ReadRequest(r io.Reader, limit int) (Request, error) {
	req := Request{Mode: ModeNone}

	var buf [1]byte

	for req.Read < limit {
		_, err := io.ReadFull(r, buf[:])
		if err != nil {
			if errors.Is(err, io.EOF) {
				return req, nil
			}

			return req, ewrap.Wrap(err, "read request byte")
		}

		if buf[0] == '\n' || buf[0] == 0 {
			break
		}

		if req.Read == 0 {
			req.Mode = Mode(buf[0])
		}

		req.Read++
	}

	return req, nil
}

// WriteRequest sends mode followed by a newline.
func WriteRequest(w io.Writer, mode Mode) error {
	_, err := w.Write([]byte{byte(mode), '\n'})
	if err != nil {
		return ewrap.Wrap(err, "write request")
	}

	return nil
}

// Response is the JSON document written back to the client.
type Response struct {
	Error int              `json:"error"`
	Body  map[string]int64 `json:"body"`
}

// OK reports whether the server accepted the request.
func (r Response) OK() bool {
	return r.Error == StatusOK
}

// Backend is the counter state a request operates on.
type Backend interface {
	Snapshot() map[string]int64
	Reset()
}

// Handle executes mode against backend and builds the response.
// Unknown modes, including ModeNone, produce StatusError and an empty body.
func Handle(mode Mode, backend Backend) Response {
	resp := Response{Error: StatusOK, Body: map[string]int64{}}

	switch mode {
	case ModeGet:
		resp.Body = backend.Snapshot()
	case ModeReset:
		backend.Reset()
	case ModePing:
	default:
		resp.Error = StatusError
	}

	return resp
}

// Encode writes resp as an indented JSON document terminated by a newline.
func (r Response) Encode(w io.Writer) error {
	if r.Body == nil {
		r.Body = map[string]int64{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	err := enc.Encode(r)
	if err != nil {
		return ewrap.Wrap(err, "encode response")
	}

	return nil
}

// DecodeResponse reads a single response document from r.
func DecodeResponse(r io.Reader) (Response, error) {
	var resp Response

	err := json.NewDecoder(r).Decode(&resp)
	if err != nil {
		return Response{}, ewrap.Wrap(err, "decode response")
	}

	if resp.Body == nil {
		resp.Body = map[string]int64{}
	}

	return resp, nil
}

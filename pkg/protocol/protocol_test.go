package protocol_test

import (
	"bytes"
	"encoding/json"
	"io"
	"maps"
	"strings"
	"testing"

	"github.com/hyp3rd/ewrap"

	"github.com/hyp3rd/statsock/pkg/counters"
	"github.com/hyp3rd/statsock/pkg/protocol"
)

func TestReadRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		limit    int
		wantMode protocol.Mode
		wantRead int
	}{
		{name: "get with newline", input: "g\n", limit: 32, wantMode: protocol.ModeGet, wantRead: 1},
		{name: "reset without delimiter", input: "r", limit: 32, wantMode: protocol.ModeReset, wantRead: 1},
		{name: "tail ignored", input: "0please-ignore\nmore", limit: 32, wantMode: protocol.ModePing, wantRead: 14},
		{name: "nul delimiter", input: "g\x00rest", limit: 32, wantMode: protocol.ModeGet, wantRead: 1},
		{name: "empty", input: "", limit: 32, wantMode: protocol.ModeNone, wantRead: 0},
		{name: "bare newline", input: "\n", limit: 32, wantMode: protocol.ModeNone, wantRead: 0},
		{name: "capped", input: strings.Repeat("z", 64), limit: 32, wantMode: protocol.Mode('z'), wantRead: 32},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req, err := protocol.ReadRequest(strings.NewReader(tc.input), tc.limit)
			if err != nil {
				t.Fatalf("ReadRequest returned error: %v", err)
			}

			if req.Mode != tc.wantMode || req.Read != tc.wantRead {
				t.Fatalf("got mode %q read %d, want mode %q read %d", req.Mode, req.Read, tc.wantMode, tc.wantRead)
			}
		})
	}
}

func TestReadRequestStopsAtCap(t *testing.T) {
	t.Parallel()

	reader := strings.NewReader(strings.Repeat("g", 40))

	_, err := protocol.ReadRequest(reader, 32)
	if err != nil {
		t.Fatalf("ReadRequest returned error: %v", err)
	}

	if reader.Len() != 8 {
		t.Fatalf("expected 8 unread bytes, got %d", reader.Len())
	}
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }

func TestReadRequestPropagatesErrors(t *testing.T) {
	t.Parallel()

	boom := ewrap.New("boom")

	req, err := protocol.ReadRequest(io.MultiReader(strings.NewReader("g"), failingReader{err: boom}), 32)
	if err == nil {
		t.Fatal("expected read error")
	}

	if req.Mode != protocol.ModeGet {
		t.Fatalf("expected mode scanned before the error, got %q", req.Mode)
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	store := counters.NewStore()
	store.Set("a", 7)

	resp := protocol.Handle(protocol.ModeGet, store)
	if !resp.OK() || !maps.Equal(resp.Body, map[string]int64{"a": 7}) {
		t.Fatalf("unexpected get response %+v", resp)
	}

	resp = protocol.Handle(protocol.ModeReset, store)
	if !resp.OK() || len(resp.Body) != 0 {
		t.Fatalf("unexpected reset response %+v", resp)
	}

	if value, _ := store.Get("a"); value != 0 {
		t.Fatalf("expected reset to zero a, got %d", value)
	}

	resp = protocol.Handle(protocol.ModePing, store)
	if !resp.OK() || len(resp.Body) != 0 {
		t.Fatalf("unexpected ping response %+v", resp)
	}

	for _, mode := range []protocol.Mode{'z', protocol.ModeNone} {
		resp = protocol.Handle(mode, store)
		if resp.Error != protocol.StatusError || len(resp.Body) != 0 {
			t.Fatalf("expected error response for %q, got %+v", mode, resp)
		}
	}
}

func TestEncodeEmptyBodyIsObject(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := protocol.Response{Error: protocol.StatusError}.Encode(&buf)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	var raw map[string]json.RawMessage

	err = json.Unmarshal(buf.Bytes(), &raw)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if string(raw["body"]) != "{}" {
		t.Fatalf("expected empty object body, got %s", raw["body"])
	}

	if string(raw["error"]) != "1" {
		t.Fatalf("expected error 1, got %s", raw["error"])
	}
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	err := protocol.Response{Body: map[string]int64{"big": 1 << 40}}.Encode(&buf)
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}

	resp, err := protocol.DecodeResponse(&buf)
	if err != nil {
		t.Fatalf("DecodeResponse returned error: %v", err)
	}

	if resp.Body["big"] != 1<<40 {
		t.Fatalf("expected 64-bit value to survive, got %d", resp.Body["big"])
	}
}

func TestModeString(t *testing.T) {
	t.Parallel()

	if protocol.ModeGet.String() != "get" || protocol.Mode('z').String() != "unknown(z)" {
		t.Fatalf("unexpected mode names %s %s", protocol.ModeGet, protocol.Mode('z'))
	}
}

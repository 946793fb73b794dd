package wire

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBinaryRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("stdin/stdout/resize round-trip through encode/decode", prop.ForAll(
		func(sessionID string, payload []byte, rows, cols uint16, kind int) bool {
			var f Frame
			switch kind % 3 {
			case 0:
				f = Frame{Type: TypeStdin, SessionID: sessionID, Payload: payload}
			case 1:
				f = Frame{Type: TypeStdout, SessionID: sessionID, Payload: payload}
			case 2:
				f = Frame{Type: TypeResize, SessionID: sessionID, Rows: rows, Cols: cols}
			}
			encoded, err := EncodeBinary(f)
			if err != nil {
				return false
			}
			decoded, err := DecodeBinary(encoded)
			if err != nil {
				return false
			}
			if decoded.Type != f.Type || decoded.SessionID != f.SessionID {
				return false
			}
			switch f.Type {
			case TypeResize:
				return decoded.Rows == f.Rows && decoded.Cols == f.Cols
			default:
				return string(decoded.Payload) == string(f.Payload)
			}
		},
		gen.AlphaString(),
		gen.SliceOf(gen.UInt8()).Map(func(s []uint8) []byte { return []byte(s) }),
		gen.UInt16(),
		gen.UInt16(),
		gen.IntRange(0, 2),
	))

	properties.Property("resize payload is always exactly 4 bytes", prop.ForAll(
		func(rows, cols uint16) bool {
			encoded, err := EncodeBinary(Frame{Type: TypeResize, SessionID: "s", Rows: rows, Cols: cols})
			if err != nil {
				return false
			}
			sidLen := len(encoded) - 4 - 4
			return sidLen == 1 && len(encoded) == 4+1+4
		},
		gen.UInt16(),
		gen.UInt16(),
	))

	properties.Property("any first byte other than 1 decodes to unsupported, never panics", prop.ForAll(
		func(b []byte) bool {
			if len(b) == 0 || b[0] == ProtocolVersion {
				return true
			}
			f, err := DecodeBinary(b)
			return err == nil && f.Type == TypeUnsupported && f.Version == int(b[0])
		},
		gen.SliceOf(gen.UInt8()).Map(func(s []uint8) []byte { return []byte(s) }),
	))

	properties.TestingRun(t)
}

func TestDecodeBinaryTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{ProtocolVersion},
		{ProtocolVersion, 1, 0},
		{ProtocolVersion, 1, 0, 5, 'a'}, // claims 5-byte session id, has 1
		{ProtocolVersion, 3, 0, 0, 1, 2, 3}, // resize payload must be 4 bytes
	}
	for _, c := range cases {
		if _, err := DecodeBinary(c); err != ErrTruncated {
			t.Errorf("DecodeBinary(%v) = %v, want ErrTruncated", c, err)
		}
	}
}

func TestDecodeBinaryUnknownCode(t *testing.T) {
	f, err := DecodeBinary([]byte{ProtocolVersion, 0xFE, 0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Type != TypeUnknown {
		t.Fatalf("got %v, want TypeUnknown", f.Type)
	}
}

func TestJSONVersionInjection(t *testing.T) {
	b, err := EncodeJSON(Frame{Type: TypeList})
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["v"] != float64(ProtocolVersion) {
		t.Fatalf("encoded %s, want \"v\":1 injected", b)
	}
	f, err := DecodeJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypeList {
		t.Fatalf("got %v, want TypeList", f.Type)
	}
}

func TestJSONVersionMismatchYieldsUnsupported(t *testing.T) {
	f, err := DecodeJSON([]byte(`{"v":2,"type":"list"}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypeUnsupported || f.Version != 2 {
		t.Fatalf("got %+v, want unsupported v=2", f)
	}
}

func TestJSONAbsentVersionIsAccepted(t *testing.T) {
	f, err := DecodeJSON([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypePing {
		t.Fatalf("got %+v, want ping", f)
	}
}

func TestJSONUnknownTypeIsIgnorable(t *testing.T) {
	f, err := DecodeJSON([]byte(`{"v":1,"type":"something_new","extra":true}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypeUnknown {
		t.Fatalf("got %v, want TypeUnknown", f.Type)
	}
}

func TestPingEchoesReceivedEncoding(t *testing.T) {
	binaryEncoded, usedBinary, err := Encode(Frame{Type: TypePing}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !usedBinary || binaryEncoded[0] != ProtocolVersion || binaryEncoded[1] != binaryCode[TypePing] {
		t.Fatalf("ping requested as binary was not encoded as binary: %v", binaryEncoded)
	}

	jsonEncoded, usedBinary, err := Encode(Frame{Type: TypePong}, false)
	if err != nil {
		t.Fatal(err)
	}
	if usedBinary {
		t.Fatalf("pong requested as json was encoded as binary")
	}
	f, err := DecodeJSON(jsonEncoded)
	if err != nil {
		t.Fatal(err)
	}
	if f.Type != TypePong {
		t.Fatalf("pong requested as json was not encoded as json: %s", jsonEncoded)
	}
}

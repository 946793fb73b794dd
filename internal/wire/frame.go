// Package wire implements Blackhole's dual-encoding frame protocol: a
// fixed-header binary encoding for the data path (stdin/stdout/resize/ping/
// pong) and a versioned JSON encoding for control messages. Both encodings
// decode into the same Frame type so callers never branch on transport.
package wire

import (
	"errors"
)

// ProtocolVersion is the only version this codec understands. Any other
// version, on either encoding, decodes to a Frame of Type Unsupported
// instead of an error.
const ProtocolVersion = 1

// ErrTruncated is returned for frames whose length doesn't match their
// header. Callers drop the frame silently; it is never surfaced to a peer.
var ErrTruncated = errors.New("wire: truncated or malformed frame")

// Type identifies a frame's logical kind across both encodings.
type Type string

const (
	TypeStdin           Type = "stdin"
	TypeStdout          Type = "stdout"
	TypeResize          Type = "resize"
	TypePing            Type = "ping"
	TypePong            Type = "pong"
	TypeList            Type = "list"
	TypeCreate          Type = "create"
	TypeClose           Type = "close"
	TypeSessionList     Type = "session_list"
	TypeSessionCreated  Type = "session_created"
	TypeSessionClosed   Type = "session_closed"
	TypeSessionAssigned Type = "session_assigned"
	TypeError           Type = "error"
	TypeUnsupported     Type = "unsupported"
	TypeUnknown         Type = "unknown"
)

// binaryCode maps the data-path types to their one-byte wire code (see §6
// of the frame type table: stdin=1, stdout=2, resize=3, ping=4, pong=5).
var binaryCode = map[Type]byte{
	TypeStdin:  1,
	TypeStdout: 2,
	TypeResize: 3,
	TypePing:   4,
	TypePong:   5,
}

var binaryType = func() map[byte]Type {
	m := make(map[byte]Type, len(binaryCode))
	for t, c := range binaryCode {
		m[c] = t
	}
	return m
}()

// Frame is a decoded message, regardless of which encoding produced it.
// Only the fields relevant to Type are populated.
type Frame struct {
	Type      Type
	Version   int
	SessionID string
	Payload   []byte
	Rows      uint16
	Cols      uint16
	Sessions  []string
	Code      string
	Message   string
}

// IsBinaryType reports whether t is ever carried on the binary encoding.
// ping and pong may travel on either; stdin/stdout/resize are binary-only.
func IsBinaryType(t Type) bool {
	_, ok := binaryCode[t]
	return ok
}

package wire

import "encoding/json"

// envelope is the wire shape of a JSON frame. V is a pointer so absence can
// be told apart from an explicit 0; per §4.1 and property 4, an absent v is
// treated as version 1, while a present-and-mismatched v yields Unsupported.
type envelope struct {
	V         *int     `json:"v,omitempty"`
	Type      string   `json:"type"`
	SessionID string   `json:"sessionId,omitempty"`
	Sessions  []string `json:"sessions,omitempty"`
	Code      string   `json:"code,omitempty"`
	Message   string   `json:"message,omitempty"`
	Version   int      `json:"version,omitempty"`
}

// DecodeJSON parses a text frame. Malformed JSON is reported as
// ErrTruncated (dropped by the caller, same as a malformed binary frame).
// An unrecognized type decodes to TypeUnknown rather than erroring, so
// future frame types don't break old peers.
func DecodeJSON(b []byte) (Frame, error) {
	var e envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return Frame{}, ErrTruncated
	}
	if e.V != nil && *e.V != ProtocolVersion {
		return Frame{Type: TypeUnsupported, Version: *e.V}, nil
	}

	switch Type(e.Type) {
	case TypeList, TypeCreate, TypePing, TypePong:
		return Frame{Type: Type(e.Type), Version: ProtocolVersion}, nil
	case TypeClose, TypeSessionCreated, TypeSessionClosed, TypeSessionAssigned:
		return Frame{Type: Type(e.Type), Version: ProtocolVersion, SessionID: e.SessionID}, nil
	case TypeSessionList:
		return Frame{Type: TypeSessionList, Version: ProtocolVersion, Sessions: e.Sessions}, nil
	case TypeError:
		return Frame{Type: TypeError, Version: ProtocolVersion, Code: e.Code, Message: e.Message}, nil
	case TypeUnsupported:
		return Frame{Type: TypeUnsupported, Version: e.Version}, nil
	default:
		return Frame{Type: TypeUnknown}, nil
	}
}

// EncodeJSON renders f as a JSON control frame, always injecting "v":1.
func EncodeJSON(f Frame) ([]byte, error) {
	m := map[string]any{"v": ProtocolVersion, "type": string(f.Type)}
	switch f.Type {
	case TypeClose, TypeSessionCreated, TypeSessionClosed, TypeSessionAssigned:
		m["sessionId"] = f.SessionID
	case TypeSessionList:
		sessions := f.Sessions
		if sessions == nil {
			sessions = []string{}
		}
		m["sessions"] = sessions
	case TypeError:
		m["code"] = f.Code
		m["message"] = f.Message
	case TypeUnsupported:
		m["version"] = f.Version
	}
	return json.Marshal(m)
}

// Decode dispatches to DecodeBinary or DecodeJSON depending on the
// transport-level message kind, matching the rule in §4.1: "A decoder that
// receives a text message parses JSON; a binary message is parsed as
// above."
func Decode(data []byte, binaryMessage bool) (Frame, error) {
	if binaryMessage {
		return DecodeBinary(data)
	}
	return DecodeJSON(data)
}

// Encode renders f on the given encoding and reports which encoding it
// actually used. Control-only types (list, create, session_list, ...)
// ignore preferBinary and always produce JSON; stdin/stdout/resize ignore
// it too and always produce binary; only ping/pong actually honor the
// flag, per design note (c): each transport must echo the encoding it
// received, never normalize it.
func Encode(f Frame, preferBinary bool) (data []byte, usedBinary bool, err error) {
	switch {
	case f.Type == TypePing || f.Type == TypePong:
		if preferBinary {
			data, err = EncodeBinary(f)
			return data, true, err
		}
		data, err = EncodeJSON(f)
		return data, false, err
	case IsBinaryType(f.Type):
		data, err = EncodeBinary(f)
		return data, true, err
	default:
		data, err = EncodeJSON(f)
		return data, false, err
	}
}

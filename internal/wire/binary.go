package wire

import "encoding/binary"

// EncodeBinary lays out f using the fixed binary header:
//
//	byte 0       version
//	byte 1       type code
//	bytes 2..3   session id length, big-endian u16
//	bytes 4..    session id bytes, then the type-specific payload
//
// f.Type must be one of the binary-carried types (IsBinaryType). RESIZE
// payload is rows||cols, each a big-endian u16; STDIN/STDOUT carry the raw
// payload; PING/PONG carry none.
func EncodeBinary(f Frame) ([]byte, error) {
	code, ok := binaryCode[f.Type]
	if !ok {
		return nil, errUnsupportedBinaryType(f.Type)
	}
	sid := []byte(f.SessionID)
	if len(sid) > 65535 {
		return nil, ErrTruncated
	}

	var payload []byte
	switch f.Type {
	case TypeResize:
		payload = make([]byte, 4)
		binary.BigEndian.PutUint16(payload[0:2], f.Rows)
		binary.BigEndian.PutUint16(payload[2:4], f.Cols)
	case TypeStdin, TypeStdout:
		payload = f.Payload
	case TypePing, TypePong:
		payload = nil
	}

	out := make([]byte, 4+len(sid)+len(payload))
	out[0] = ProtocolVersion
	out[1] = code
	binary.BigEndian.PutUint16(out[2:4], uint16(len(sid)))
	copy(out[4:], sid)
	copy(out[4+len(sid):], payload)
	return out, nil
}

// DecodeBinary parses a binary frame. A version byte other than 1 never
// errors; it yields a Frame{Type: TypeUnsupported, Version: v} so the
// caller can reply and close rather than crash. Any other malformed or
// truncated input returns ErrTruncated, and the caller drops it silently
// per §4.1.
func DecodeBinary(b []byte) (Frame, error) {
	if len(b) < 1 {
		return Frame{}, ErrTruncated
	}
	version := int(b[0])
	if version != ProtocolVersion {
		return Frame{Type: TypeUnsupported, Version: version}, nil
	}
	if len(b) < 4 {
		return Frame{}, ErrTruncated
	}
	code := b[1]
	typ, ok := binaryType[code]
	if !ok {
		return Frame{Type: TypeUnknown}, nil
	}
	l := int(binary.BigEndian.Uint16(b[2:4]))
	if len(b) < 4+l {
		return Frame{}, ErrTruncated
	}
	sessionID := string(b[4 : 4+l])
	payload := b[4+l:]

	switch typ {
	case TypeResize:
		if len(payload) != 4 {
			return Frame{}, ErrTruncated
		}
		return Frame{
			Type:      TypeResize,
			Version:   ProtocolVersion,
			SessionID: sessionID,
			Rows:      binary.BigEndian.Uint16(payload[0:2]),
			Cols:      binary.BigEndian.Uint16(payload[2:4]),
		}, nil
	case TypeStdin, TypeStdout:
		return Frame{
			Type:      typ,
			Version:   ProtocolVersion,
			SessionID: sessionID,
			Payload:   payload,
		}, nil
	case TypePing, TypePong:
		return Frame{Type: typ, Version: ProtocolVersion, SessionID: sessionID}, nil
	}
	return Frame{Type: TypeUnknown}, nil
}

type errUnsupportedBinaryType Type

func (e errUnsupportedBinaryType) Error() string {
	return "wire: type " + string(e) + " has no binary encoding"
}

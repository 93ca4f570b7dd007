package protocol

import (
	"encoding/binary"
	"encoding/json"
	"unicode/utf8"
)

// Encode serializes a Frame into a byte slice for transmission.
func Encode(f *Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Channel)
	binary.BigEndian.PutUint16(buf[1:3], f.Seq)
	binary.BigEndian.PutUint64(buf[3:11], f.Timestamp)
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// EncodeFrame is Encode without building a Frame first.
func EncodeFrame(ch Channel, seq uint16, timestampMs uint64, payload []byte) []byte {
	return Encode(&Frame{Channel: ch, Seq: seq, Timestamp: timestampMs, Payload: payload})
}

// Decode deserializes a byte slice into a Frame. It returns a *FormatError
// when the header is incomplete or carries an unknown channel tag, and a
// *DecodeError when the payload is not a UTF-8 JSON object.
func Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, &FormatError{Len: len(data)}
	}

	ch := Channel(data[0])
	if ch != Reliable && ch != Unreliable {
		return nil, &FormatError{Len: len(data), Tag: data[0]}
	}

	f := &Frame{
		Channel:   ch,
		Seq:       binary.BigEndian.Uint16(data[1:3]),
		Timestamp: binary.BigEndian.Uint64(data[3:11]),
	}

	if !utf8.Valid(data[HeaderSize:]) {
		return nil, &DecodeError{Seq: f.Seq, Err: errInvalidUTF8}
	}

	// The payload must be a structured map; anything else is undecodable.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data[HeaderSize:], &fields); err != nil {
		return nil, &DecodeError{Seq: f.Seq, Err: err}
	}
	if fields == nil {
		return nil, &DecodeError{Seq: f.Seq, Err: errNullPayload}
	}

	f.Payload = make([]byte, len(data)-HeaderSize)
	copy(f.Payload, data[HeaderSize:])
	return f, nil
}

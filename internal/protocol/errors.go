package protocol

import (
	"errors"
	"fmt"
)

var (
	errNullPayload = errors.New("payload is null")
	errInvalidUTF8 = errors.New("payload is not valid UTF-8")
)

// FormatError reports a frame whose header cannot be parsed.
type FormatError struct {
	Len int  // length of the offending buffer
	Tag byte // channel tag, only meaningful when Len >= HeaderSize
}

func (e *FormatError) Error() string {
	if e.Len < HeaderSize {
		return fmt.Sprintf("frame too short: %d bytes (need at least %d)", e.Len, HeaderSize)
	}
	return fmt.Sprintf("unknown channel tag 0x%02x", e.Tag)
}

// DecodeError reports a frame whose payload is not a JSON object.
type DecodeError struct {
	Seq uint16
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("payload decode failed (seq=%d): %v", e.Seq, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

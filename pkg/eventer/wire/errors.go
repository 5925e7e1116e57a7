package wire

import "errors"

var (
	// ErrDecode marks a malformed frame. The frame is dropped; the stream
	// remains usable because the terminator was still found.
	ErrDecode = errors.New("malformed frame")

	ErrShortFrame    = errors.New("frame shorter than header and terminator")
	ErrNoTerminator  = errors.New("frame is not zero terminated")
	ErrInvalidUTF8   = errors.New("frame text is not valid UTF-8")
	ErrZeroByte      = errors.New("frame text contains a zero byte")
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

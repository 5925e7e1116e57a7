// Package wire implements the eventer frame format:
//
//	int16 code (big-endian) || UTF-8 text || 0x00
//
// There is no length field. A frame ends at the first zero byte following
// the two header bytes.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

const (
	headerLen  = 2
	terminator = 0x00

	// DefaultMaxFrameBytes bounds how much a Reader buffers while waiting for
	// a terminator.
	DefaultMaxFrameBytes = 1 << 20
)

// Frame is one decoded protocol unit.
type Frame struct {
	Code int16
	Text string
}

// Encode builds a frame for code and text.
func Encode(code int16, text string) ([]byte, error) {
	return AppendFrame(make([]byte, 0, headerLen+len(text)+1), code, text)
}

// AppendFrame appends an encoded frame to dst.
func AppendFrame(dst []byte, code int16, text string) ([]byte, error) {
	if idx := bytes.IndexByte([]byte(text), terminator); idx >= 0 {
		return dst, fmt.Errorf("%w at offset %d", ErrZeroByte, idx)
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(code))
	dst = append(dst, text...)
	return append(dst, terminator), nil
}

// Decode parses exactly one complete frame, terminator included.
func Decode(frame []byte) (Frame, error) {
	if len(frame) < headerLen+1 {
		return Frame{}, errors.Join(ErrDecode, ErrShortFrame)
	}
	if frame[len(frame)-1] != terminator {
		return Frame{}, errors.Join(ErrDecode, ErrNoTerminator)
	}
	body := frame[headerLen : len(frame)-1]
	if bytes.IndexByte(body, terminator) >= 0 {
		return Frame{}, errors.Join(ErrDecode, ErrZeroByte)
	}
	if !utf8.Valid(body) {
		return Frame{}, errors.Join(ErrDecode, ErrInvalidUTF8)
	}
	return Frame{
		Code: int16(binary.BigEndian.Uint16(frame[:headerLen])),
		Text: string(body),
	}, nil
}

// Write encodes a frame and writes it to w in a single call.
func Write(w io.Writer, code int16, text string) error {
	data, err := Encode(code, text)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// Reader extracts frames from a byte stream. It is not safe for concurrent
// use.
type Reader struct {
	br       *bufio.Reader
	maxFrame int
	buf      []byte
}

// NewReader wraps r. maxFrame <= 0 selects DefaultMaxFrameBytes.
func NewReader(r io.Reader, maxFrame int) *Reader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Reader{
		br:       bufio.NewReader(r),
		maxFrame: maxFrame,
	}
}

// ReadFrame blocks until a full frame has been buffered and returns it.
//
// Errors wrapping ErrDecode concern only that frame and reading may
// continue. ErrFrameTooLarge and I/O errors leave the stream in an unknown
// state and the caller should stop.
func (r *Reader) ReadFrame() (Frame, error) {
	r.buf = r.buf[:0]

	var hdr [headerLen]byte
	if _, err := io.ReadFull(r.br, hdr[:]); err != nil {
		return Frame{}, err
	}
	r.buf = append(r.buf, hdr[:]...)

	for {
		chunk, err := r.br.ReadSlice(terminator)
		if len(r.buf)+len(chunk) > r.maxFrame {
			return Frame{}, ErrFrameTooLarge
		}
		r.buf = append(r.buf, chunk...)

		switch {
		case err == nil:
			return Decode(r.buf)
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			// A partial frame at end of stream never completes.
			return Frame{}, io.ErrUnexpectedEOF
		default:
			return Frame{}, err
		}
	}
}

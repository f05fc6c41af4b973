package codec

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

type readerState uint8

const (
	stateIdle readerState = iota
	stateBuffered
	stateExhausted
)

// ReencodingReader turns a native text stream into a byte stream in another
// charset, one character at a time. Native line endings become "\n", and a
// NUL character ends the stream when the source format is NUL-terminated.
// Nothing is read from the source until the first Read.
type ReencodingReader struct {
	src     *bufio.Reader
	eol     []byte
	stopNUL bool
	enc     transform.Transformer

	state   readerState
	flushed bool
	out     []byte
	pos     int
	scratch [64]byte
	err     error
}

// NewReencodingReader reads r as srcCharset text with the given native EOL
// and terminator count, and yields the characters encoded as dstCharset.
func NewReencodingReader(r io.Reader, srcCharset, eol string, terminators int, dstCharset string) (*ReencodingReader, error) {
	src, err := LookupCharset(srcCharset)
	if err != nil {
		return nil, err
	}
	dst, err := LookupCharset(dstCharset)
	if err != nil {
		return nil, err
	}
	rr := &ReencodingReader{
		src:     bufio.NewReader(transform.NewReader(r, src.NewDecoder())),
		stopNUL: terminators > 0,
		enc:     encoding.ReplaceUnsupported(dst.NewEncoder()),
	}
	if eol != "" && eol != "\n" {
		rr.eol = []byte(eol)
	}
	return rr, nil
}

func (r *ReencodingReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if r.state == stateBuffered && r.pos < len(r.out) {
			k := copy(p[n:], r.out[r.pos:])
			r.pos += k
			n += k
			continue
		}
		if r.state == stateExhausted {
			break
		}
		if err := r.fill(); err != nil {
			r.state = stateExhausted
			r.err = err
			break
		}
	}
	if n == 0 && r.state == stateExhausted {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	return n, nil
}

// fill pulls the next character from the source and encodes it. At the end of
// the source it flushes the encoder once and then marks the reader exhausted.
func (r *ReencodingReader) fill() error {
	if r.flushed {
		r.state = stateExhausted
		return nil
	}
	if len(r.eol) > 0 {
		if b, _ := r.src.Peek(len(r.eol)); bytes.Equal(b, r.eol) {
			if _, err := r.src.Discard(len(r.eol)); err != nil {
				return err
			}
			return r.emit([]byte{'\n'}, false)
		}
	}
	ch, _, err := r.src.ReadRune()
	switch {
	case errors.Is(err, io.EOF):
		return r.emit(nil, true)
	case err != nil:
		return err
	case r.stopNUL && ch == 0:
		return r.emit(nil, true)
	}
	var buf [utf8.UTFMax]byte
	k := utf8.EncodeRune(buf[:], ch)
	return r.emit(buf[:k], false)
}

func (r *ReencodingReader) emit(src []byte, atEOF bool) error {
	r.out = r.out[:0]
	r.pos = 0
	for {
		nDst, nSrc, err := r.enc.Transform(r.scratch[:], src, atEOF)
		r.out = append(r.out, r.scratch[:nDst]...)
		src = src[nSrc:]
		if errors.Is(err, transform.ErrShortDst) {
			continue
		}
		if err != nil {
			return err
		}
		if len(src) == 0 {
			break
		}
	}
	r.state = stateBuffered
	r.flushed = atEOF
	return nil
}

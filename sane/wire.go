package sane

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding/charmap"
)

// The wire format is a stream of big-endian words. Strings carry their
// own length and are ISO-8859-1 with a trailing NUL; a zero length word
// alone denotes the empty string. Optional values are preceded by a
// pointer word: non-zero means a value follows, zero means absent.

// latin1 turns a Go string into its ISO-8859-1 byte representation.
func latin1(s string) ([]byte, error) {
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, preconditionf("string %q is not representable in ISO-8859-1", s)
	}
	return b, nil
}

// fromLatin1 decodes ISO-8859-1 bytes into a Go string. Decoding cannot
// fail: every byte maps to a code point.
func fromLatin1(b []byte) string {
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return string(out)
}

// reader decodes SANE wire primitives from the control stream.
type reader struct {
	r io.Reader
}

func newReader(r io.Reader) *reader {
	return &reader{r: bufio.NewReader(r)}
}

func (r *reader) word() (Word, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return 0, &ProtocolError{Msg: "read word", Err: err}
	}
	return Word(binary.BigEndian.Uint32(buf[:])), nil
}

func (r *reader) status() (Status, error) {
	w, err := r.word()
	return Status(w), err
}

// bytes reads exactly n raw bytes from the stream.
func (r *reader) bytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, &ProtocolError{Msg: fmt.Sprintf("read %d bytes", n), Err: err}
	}
	return buf, nil
}

// strBytes reads a string payload and returns its raw bytes with the
// terminator and anything after an embedded NUL removed.
func (r *reader) strBytes() ([]byte, error) {
	length, err := r.word()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}
	if length.Int() < 0 {
		return nil, protocolf("negative string length %d", length.Int())
	}
	buf, err := r.bytes(int(length))
	if err != nil {
		return nil, err
	}
	// The last byte is the NUL terminator; some backends pad with
	// garbage after an earlier NUL, so cut at the first one.
	for i, b := range buf {
		if b == 0 {
			return buf[:i], nil
		}
	}
	return buf, nil
}

func (r *reader) str() (string, error) {
	b, err := r.strBytes()
	if err != nil {
		return "", err
	}
	return fromLatin1(b), nil
}

// pointer reads a pointer word and reports whether a value follows.
func (r *reader) pointer() (bool, error) {
	w, err := r.word()
	if err != nil {
		return false, err
	}
	return w != 0, nil
}

// parameters reads the six-word frame parameter block.
func (r *reader) parameters() (Parameters, error) {
	var p Parameters
	fields := []struct {
		name string
		set  func(Word)
	}{
		{"frame type", func(w Word) { p.Frame = FrameType(w) }},
		{"last frame", func(w Word) { p.LastFrame = w != 0 }},
		{"bytes per line", func(w Word) { p.BytesPerLine = int(w.Int()) }},
		{"pixels per line", func(w Word) { p.PixelsPerLine = int(w.Int()) }},
		{"line count", func(w Word) { p.LineCount = int(w.Int()) }},
		{"depth", func(w Word) { p.Depth = int(w.Int()) }},
	}
	for _, f := range fields {
		w, err := r.word()
		if err != nil {
			return p, fmt.Errorf("parameters %s: %w", f.name, err)
		}
		f.set(w)
	}
	return p, nil
}

// writer encodes SANE wire primitives onto the control stream.
type writer struct {
	w *bufio.Writer
}

func newWriter(w io.Writer) *writer {
	return &writer{w: bufio.NewWriter(w)}
}

func (w *writer) word(v Word) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	if _, err := w.w.Write(buf[:]); err != nil {
		return fmt.Errorf("write word: %w", err)
	}
	return nil
}

// str writes a string as length+1 ISO-8859-1 bytes with a NUL appended.
// The empty string is written as a length word of one plus a lone NUL
// byte.
func (w *writer) str(s string) error {
	b, err := latin1(s)
	if err != nil {
		return err
	}
	if err := w.word(Word(len(b) + 1)); err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("write string: %w", err)
	}
	if err := w.w.WriteByte(0); err != nil {
		return fmt.Errorf("write string terminator: %w", err)
	}
	return nil
}

func (w *writer) bytes(b []byte) error {
	if _, err := w.w.Write(b); err != nil {
		return fmt.Errorf("write bytes: %w", err)
	}
	return nil
}

func (w *writer) flush() error {
	if err := w.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

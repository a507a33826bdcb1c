package sane

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"
)

// The data socket delivers frame bytes as length-prefixed records; a
// length word of all ones terminates the stream.
const endOfRecords = 0xFFFFFFFF

// Frame is one channel of image data together with its (possibly
// revised) parameters.
type Frame struct {
	params Parameters
	data   []byte
}

// Parameters returns the frame parameters. When the backend did not
// announce a height up front, LineCount holds the value inferred from
// the received bytes.
func (f *Frame) Parameters() Parameters { return f.params }

// Bytes returns the frame payload.
func (f *Frame) Bytes() []byte { return f.data }

// frameReader drains one frame from the data socket.
type frameReader struct {
	params    Parameters
	r         io.Reader
	bigEndian bool
	notify    func(total, expected int)
}

// read consumes records until the end-of-records sentinel and applies
// the post-read fix-ups: zero padding of short frames, byte swapping of
// little-endian 16-bit data, and line-count inference.
func (fr *frameReader) read() (*Frame, error) {
	expected := fr.params.imageBytes()
	var data []byte
	if expected > 0 {
		data = make([]byte, 0, expected)
	}

	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
			return nil, &ProtocolError{Msg: "read record length", Err: err}
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length == endOfRecords {
			break
		}
		if length > math.MaxInt32 {
			return nil, protocolf("record of %d bytes is unsupported", length)
		}
		record := make([]byte, length)
		if _, err := io.ReadFull(fr.r, record); err != nil {
			return nil, &ProtocolError{Msg: "read record payload", Err: err}
		}
		data = append(data, record...)
		if fr.notify != nil {
			fr.notify(len(data), expected)
		}
	}

	if err := fr.consumeTrailingStatus(); err != nil {
		return nil, err
	}

	params := fr.params
	if expected > len(data) {
		slog.Warn("frame shorter than announced, padding with zeros",
			"expected", expected, "received", len(data))
		data = append(data, make([]byte, expected-len(data))...)
	}
	if params.Depth == 16 && !fr.bigEndian {
		if len(data)%2 != 0 {
			return nil, protocolf("16-bit frame with odd byte count %d", len(data))
		}
		for i := 0; i < len(data); i += 2 {
			data[i], data[i+1] = data[i+1], data[i]
		}
	}
	if params.LineCount <= 0 && params.BytesPerLine > 0 {
		params.LineCount = len(data) / params.BytesPerLine
		slog.Debug("inferred frame height", "lines", params.LineCount)
	}

	return &Frame{params: params, data: data}, nil
}

// consumeTrailingStatus tolerates the extra status byte some backends
// emit after the end-of-records sentinel. Nothing after the sentinel is
// fine; a trailing end-of-file status byte is discarded; anything else
// is surfaced.
func (fr *frameReader) consumeTrailingStatus() error {
	var buf [1]byte
	n, err := fr.r.Read(buf[:])
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return nil
		}
		// The stream ended with the sentinel; a transport error while
		// probing past it is not a frame error.
		slog.Debug("probe past end of records", "err", err)
		return nil
	}
	if status := Status(buf[0]); status != StatusEOF {
		return &StatusError{Op: "read frame", Status: status}
	}
	return nil
}

package sane

import "fmt"

// Parameters describes one frame of an acquisition, as returned by
// SANE_NET_GET_PARAMETERS. LineCount is -1 when the backend does not know
// the frame height up front (hand-held scanners); the frame reader fills
// it in from the received byte count.
type Parameters struct {
	Frame         FrameType
	LastFrame     bool
	BytesPerLine  int
	PixelsPerLine int
	LineCount     int
	Depth         int
}

// heightKnown reports whether the backend announced the frame height.
func (p Parameters) heightKnown() bool {
	return p.LineCount >= 0
}

// imageBytes returns the expected frame payload size, or -1 when the
// height is unknown.
func (p Parameters) imageBytes() int {
	if !p.heightKnown() {
		return -1
	}
	return p.BytesPerLine * p.LineCount
}

func (p Parameters) String() string {
	return fmt.Sprintf("%s %dx%d depth=%d bytesPerLine=%d last=%v",
		p.Frame, p.PixelsPerLine, p.LineCount, p.Depth, p.BytesPerLine, p.LastFrame)
}

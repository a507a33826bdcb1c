package sane

import "fmt"

// Image is an assembled acquisition result: one gray or RGB frame, or
// the three single-channel frames of a three-pass scan re-ordered to
// red, green, blue.
type Image struct {
	frames []*Frame
}

// Width returns the image width in pixels.
func (im *Image) Width() int { return im.frames[0].params.PixelsPerLine }

// Height returns the image height in lines.
func (im *Image) Height() int { return im.frames[0].params.LineCount }

// BytesPerLine returns the per-frame line stride in bytes.
func (im *Image) BytesPerLine() int { return im.frames[0].params.BytesPerLine }

// Depth returns the bits per sample.
func (im *Image) Depth() int { return im.frames[0].params.Depth }

// Frames returns the image frames: a single gray or RGB frame, or
// exactly red, green and blue in that order.
func (im *Image) Frames() []*Frame {
	out := make([]*Frame, len(im.frames))
	copy(out, im.frames)
	return out
}

// NewFrame builds a frame from parameters and payload bytes, for
// callers assembling images outside an acquisition.
func NewFrame(p Parameters, data []byte) *Frame {
	return &Frame{params: p, data: data}
}

// Assemble builds an image from the given frames under the same
// composition invariants an acquisition applies.
func Assemble(frames ...*Frame) (*Image, error) {
	a := &imageAssembler{}
	for _, f := range frames {
		if err := a.add(f); err != nil {
			return nil, err
		}
	}
	return a.build()
}

// imageAssembler collects the frames of one acquisition and checks the
// composition invariants as they arrive.
type imageAssembler struct {
	frames       []*Frame
	sawSingleton bool
}

// add accepts the next frame. No two frames may share a type, a
// complete gray or RGB frame must arrive alone, and all frames must
// carry the same payload length.
func (a *imageAssembler) add(f *Frame) error {
	frameType := f.params.Frame
	if a.sawSingleton {
		return protocolf("frame %s after a complete %s frame", frameType, a.frames[0].params.Frame)
	}
	for _, existing := range a.frames {
		if existing.params.Frame == frameType {
			return protocolf("duplicate %s frame", frameType)
		}
	}
	if frameType.singleFrame() && len(a.frames) > 0 {
		return protocolf("complete %s frame after partial frames", frameType)
	}
	if len(a.frames) > 0 && len(f.data) != len(a.frames[0].data) {
		return protocolf("frame %s carries %d bytes, expected %d",
			frameType, len(f.data), len(a.frames[0].data))
	}
	a.frames = append(a.frames, f)
	if frameType.singleFrame() {
		a.sawSingleton = true
	}
	return nil
}

// build produces the image. Legal compositions are exactly one gray or
// RGB frame, or exactly the red, green and blue frames of a three-pass
// scan; the latter are re-ordered to red, green, blue regardless of
// arrival order.
func (a *imageAssembler) build() (*Image, error) {
	switch len(a.frames) {
	case 1:
		if !a.frames[0].params.Frame.singleFrame() {
			return nil, protocolf("lone %s frame does not form an image", a.frames[0].params.Frame)
		}
		return &Image{frames: a.frames}, nil

	case 3:
		byType := make(map[FrameType]*Frame, 3)
		for _, f := range a.frames {
			byType[f.params.Frame] = f
		}
		ordered := make([]*Frame, 0, 3)
		for _, t := range []FrameType{FrameRed, FrameGreen, FrameBlue} {
			f, ok := byType[t]
			if !ok {
				return nil, protocolf("three-frame image is missing its %s frame", t)
			}
			ordered = append(ordered, f)
		}
		return &Image{frames: ordered}, nil

	default:
		return nil, protocolf("%d frames do not form an image", len(a.frames))
	}
}

func (im *Image) String() string {
	kind := im.frames[0].params.Frame.String()
	if len(im.frames) == 3 {
		kind = "three-pass rgb"
	}
	return fmt.Sprintf("image %dx%d depth=%d (%s)", im.Width(), im.Height(), im.Depth(), kind)
}

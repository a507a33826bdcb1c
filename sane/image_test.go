package sane

import (
	"bytes"
	"testing"
)

func testFrame(t FrameType, size int) *Frame {
	return &Frame{
		params: Parameters{
			Frame: t, BytesPerLine: size / 10, PixelsPerLine: size / 10,
			LineCount: 10, Depth: 8,
		},
		data: bytes.Repeat([]byte{byte(t) + 1}, size),
	}
}

func TestAssemblerSingleGray(t *testing.T) {
	a := &imageAssembler{}
	if err := a.add(testFrame(FrameGray, 1000)); err != nil {
		t.Fatalf("add: %v", err)
	}
	img, err := a.build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if img.Width() != 100 || img.Height() != 10 || img.Depth() != 8 {
		t.Errorf("image = %v", img)
	}
	if len(img.Frames()) != 1 {
		t.Errorf("frames = %d, want 1", len(img.Frames()))
	}
}

func TestAssemblerReordersRGB(t *testing.T) {
	// Frames arriving green, red, blue come out red, green, blue.
	a := &imageAssembler{}
	for _, ft := range []FrameType{FrameGreen, FrameRed, FrameBlue} {
		if err := a.add(testFrame(ft, 1000)); err != nil {
			t.Fatalf("add %v: %v", ft, err)
		}
	}
	img, err := a.build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	frames := img.Frames()
	want := []FrameType{FrameRed, FrameGreen, FrameBlue}
	for i, f := range frames {
		if f.Parameters().Frame != want[i] {
			t.Errorf("frame %d = %v, want %v", i, f.Parameters().Frame, want[i])
		}
	}
}

func TestAssemblerRejectsDuplicateFrame(t *testing.T) {
	a := &imageAssembler{}
	if err := a.add(testFrame(FrameRed, 100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.add(testFrame(FrameRed, 100)); err == nil {
		t.Fatal("expected error for duplicate frame type")
	}
}

func TestAssemblerRejectsFrameAfterSingleton(t *testing.T) {
	a := &imageAssembler{}
	if err := a.add(testFrame(FrameRGB, 100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.add(testFrame(FrameRed, 100)); err == nil {
		t.Fatal("expected error for frame after a complete frame")
	}
}

func TestAssemblerRejectsSingletonAfterPartial(t *testing.T) {
	a := &imageAssembler{}
	if err := a.add(testFrame(FrameRed, 100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.add(testFrame(FrameGray, 100)); err == nil {
		t.Fatal("expected error for complete frame after partial frames")
	}
}

func TestAssemblerRejectsLengthMismatch(t *testing.T) {
	a := &imageAssembler{}
	if err := a.add(testFrame(FrameRed, 100)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.add(testFrame(FrameGreen, 200)); err == nil {
		t.Fatal("expected error for mismatched frame lengths")
	}
}

func TestAssemblerRejectsIncompleteComposition(t *testing.T) {
	// Two of three passes is not an image.
	a := &imageAssembler{}
	a.add(testFrame(FrameRed, 100))
	a.add(testFrame(FrameGreen, 100))
	if _, err := a.build(); err == nil {
		t.Fatal("expected error for two-frame composition")
	}

	// A lone partial frame is not an image either.
	a = &imageAssembler{}
	a.add(testFrame(FrameBlue, 100))
	if _, err := a.build(); err == nil {
		t.Fatal("expected error for lone partial frame")
	}

	// No frames at all.
	a = &imageAssembler{}
	if _, err := a.build(); err == nil {
		t.Fatal("expected error for empty composition")
	}
}

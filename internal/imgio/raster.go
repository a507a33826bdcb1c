// Package imgio translates assembled scan images into Go image types
// and writes them out as PNG, TIFF or multi-page PDF.
package imgio

import (
	"fmt"
	"image"

	"github.com/lolhens/gosane/sane"
)

// ToImage renders an assembled scan into the matching Go image type:
// 1-bit line art and 8-bit gray become *image.Gray, 16-bit gray becomes
// *image.Gray16, and color data becomes *image.RGBA or *image.RGBA64.
func ToImage(img *sane.Image) (image.Image, error) {
	frames := img.Frames()
	width, height := img.Width(), img.Height()
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image has no pixels (%dx%d)", width, height)
	}

	if len(frames) == 3 {
		return threePassImage(img, frames)
	}

	frame := frames[0]
	switch frame.Parameters().Frame {
	case sane.FrameGray:
		return grayImage(img, frame)
	case sane.FrameRGB:
		return rgbImage(img, frame)
	default:
		return nil, fmt.Errorf("unsupported frame type %v", frame.Parameters().Frame)
	}
}

func grayImage(img *sane.Image, frame *sane.Frame) (image.Image, error) {
	width, height := img.Width(), img.Height()
	stride := img.BytesPerLine()
	data := frame.Bytes()

	switch img.Depth() {
	case 1:
		// Line art: one bit per pixel, most significant bit first,
		// a set bit is black.
		dst := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			row := data[y*stride:]
			for x := 0; x < width; x++ {
				if row[x/8]&(0x80>>(x%8)) == 0 {
					dst.Pix[y*dst.Stride+x] = 0xFF
				}
			}
		}
		return dst, nil

	case 8:
		dst := image.NewGray(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+width], data[y*stride:])
		}
		return dst, nil

	case 16:
		// Frame data is big-endian after the reader's fix-up, matching
		// the in-memory layout of image.Gray16.
		dst := image.NewGray16(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+2*width], data[y*stride:])
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("unsupported gray depth %d", img.Depth())
	}
}

func rgbImage(img *sane.Image, frame *sane.Frame) (image.Image, error) {
	width, height := img.Width(), img.Height()
	stride := img.BytesPerLine()
	data := frame.Bytes()

	switch img.Depth() {
	case 8:
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			src := data[y*stride:]
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < width; x++ {
				row[4*x+0] = src[3*x+0]
				row[4*x+1] = src[3*x+1]
				row[4*x+2] = src[3*x+2]
				row[4*x+3] = 0xFF
			}
		}
		return dst, nil

	case 16:
		dst := image.NewRGBA64(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			src := data[y*stride:]
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < width; x++ {
				copy(row[8*x:8*x+6], src[6*x:6*x+6])
				row[8*x+6] = 0xFF
				row[8*x+7] = 0xFF
			}
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("unsupported rgb depth %d", img.Depth())
	}
}

// threePassImage merges the red, green and blue frames of a three-pass
// scan into one interleaved image.
func threePassImage(img *sane.Image, frames []*sane.Frame) (image.Image, error) {
	width, height := img.Width(), img.Height()
	stride := img.BytesPerLine()
	red, green, blue := frames[0].Bytes(), frames[1].Bytes(), frames[2].Bytes()

	switch img.Depth() {
	case 8:
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < width; x++ {
				row[4*x+0] = red[y*stride+x]
				row[4*x+1] = green[y*stride+x]
				row[4*x+2] = blue[y*stride+x]
				row[4*x+3] = 0xFF
			}
		}
		return dst, nil

	case 16:
		dst := image.NewRGBA64(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			row := dst.Pix[y*dst.Stride:]
			for x := 0; x < width; x++ {
				copy(row[8*x+0:8*x+2], red[y*stride+2*x:])
				copy(row[8*x+2:8*x+4], green[y*stride+2*x:])
				copy(row[8*x+4:8*x+6], blue[y*stride+2*x:])
				row[8*x+6] = 0xFF
				row[8*x+7] = 0xFF
			}
		}
		return dst, nil

	default:
		return nil, fmt.Errorf("unsupported three-pass depth %d", img.Depth())
	}
}

package imgio

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"
)

// Formats supported by Write.
const (
	FormatPNG  = "png"
	FormatTIFF = "tiff"
	FormatPDF  = "pdf"
)

// FormatForPath derives the output format from a filename extension,
// defaulting to PNG.
func FormatForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		return FormatTIFF
	case ".pdf":
		return FormatPDF
	default:
		return FormatPNG
	}
}

// Write stores the image at path in the given format. PDF output embeds
// the single page at the given resolution; dpi is ignored otherwise.
func Write(path, format string, img image.Image, dpi int) error {
	switch format {
	case FormatPNG:
		return writePNG(path, img)
	case FormatTIFF:
		return writeTIFF(path, img)
	case FormatPDF:
		return WritePDF(path, []image.Image{img}, dpi)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode PNG: %w", err)
	}
	return f.Close()
}

func writeTIFF(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	opts := &tiff.Options{Compression: tiff.Deflate}
	if err := tiff.Encode(f, img, opts); err != nil {
		f.Close()
		return fmt.Errorf("encode TIFF: %w", err)
	}
	return f.Close()
}

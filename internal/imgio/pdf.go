package imgio

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/go-pdf/fpdf"
)

// WritePDF combines the pages into a single PDF file.
func WritePDF(path string, pages []image.Image, dpi int) error {
	data, err := GeneratePDF(pages, dpi)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GeneratePDF combines the pages into a PDF in memory. Each page is
// embedded as PNG with its physical size derived from the scan
// resolution.
func GeneratePDF(pages []image.Image, dpi int) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages to write")
	}
	if dpi <= 0 {
		dpi = 300
	}

	pdf := fpdf.New("P", "mm", "", "")
	pdf.SetAutoPageBreak(false, 0)

	for i, page := range pages {
		bounds := page.Bounds()
		widthMM := float64(bounds.Dx()) / float64(dpi) * 25.4
		heightMM := float64(bounds.Dy()) / float64(dpi) * 25.4

		pdf.AddPageFormat("P", fpdf.SizeType{Wd: widthMM, Ht: heightMM})

		var buf bytes.Buffer
		if err := png.Encode(&buf, page); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		name := fmt.Sprintf("page%d", i)
		pdf.RegisterImageOptionsReader(name, fpdf.ImageOptions{ImageType: "PNG"}, &buf)
		pdf.ImageOptions(name, 0, 0, widthMM, heightMM, false, fpdf.ImageOptions{}, 0, "")
	}

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("generate PDF: %w", err)
	}
	return out.Bytes(), nil
}

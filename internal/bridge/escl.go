// Package bridge exposes a SANE device as an eSCL (AirScan) scanner.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"io"
	"log/slog"

	"github.com/OpenPrinting/go-mfp/abstract"
	"github.com/OpenPrinting/go-mfp/util/generic"
	"github.com/OpenPrinting/go-mfp/util/uuid"

	"github.com/lolhens/gosane/internal/config"
	"github.com/lolhens/gosane/internal/imgio"
	"github.com/lolhens/gosane/sane"
)

// Standard resolution steps offered when the backend constrains the
// resolution with a range instead of a list.
var rangeResolutions = []int{75, 100, 150, 200, 300, 600, 1200}

// Adapter implements abstract.Scanner on top of an open SANE device.
type Adapter struct {
	device   *sane.Device
	settings *config.Store
	caps     *abstract.ScannerCapabilities
}

// New creates an eSCL adapter wrapping the given open device. The
// capability set is derived from the device's live option constraints.
func New(device *sane.Device, settings *config.Store) (*Adapter, error) {
	a := &Adapter{device: device, settings: settings}
	caps, err := a.buildCapabilities()
	if err != nil {
		return nil, err
	}
	a.caps = caps
	return a, nil
}

func (a *Adapter) buildCapabilities() (*abstract.ScannerCapabilities, error) {
	resolutions, err := a.resolutions()
	if err != nil {
		return nil, err
	}
	colorModes, err := a.colorModes()
	if err != nil {
		return nil, err
	}

	profile := abstract.SettingsProfile{
		ColorModes: generic.MakeBitset(colorModes...),
		Depths:     generic.MakeBitset(abstract.ColorDepth8),
		BinaryRenderings: generic.MakeBitset(
			abstract.BinaryRenderingThreshold,
		),
		Resolutions: resolutions,
	}

	platen := &abstract.InputCapabilities{
		MinWidth:              50 * abstract.Millimeter,
		MaxWidth:              216 * abstract.Millimeter,
		MinHeight:             50 * abstract.Millimeter,
		MaxHeight:             297 * abstract.Millimeter,
		MaxOpticalXResolution: resolutions[len(resolutions)-1].XResolution,
		MaxOpticalYResolution: resolutions[len(resolutions)-1].YResolution,
		Intents: generic.MakeBitset(
			abstract.IntentDocument,
			abstract.IntentPhoto,
			abstract.IntentTextAndGraphic,
		),
		Profiles: []abstract.SettingsProfile{profile},
	}

	// Deterministic UUID from the device name.
	deviceUUID := uuid.SHA1(uuid.NameSpaceDNS, "gosane."+a.device.Name())

	name := a.device.Model()
	if name == "" {
		name = a.device.Name()
	}

	return &abstract.ScannerCapabilities{
		UUID:            deviceUUID,
		MakeAndModel:    name,
		Manufacturer:    a.device.Vendor(),
		SerialNumber:    a.device.Name(),
		DocumentFormats: []string{"image/png", "application/pdf"},
		Platen:          platen,
	}, nil
}

// resolutions derives the offered resolution steps from the device's
// resolution option constraint.
func (a *Adapter) resolutions() ([]abstract.Resolution, error) {
	steps := []int{300}
	opt, err := a.device.Option("resolution")
	if err == nil {
		switch c := opt.Constraint().(type) {
		case sane.WordListConstraint:
			steps = steps[:0]
			for _, w := range c {
				steps = append(steps, constraintInt(opt, w))
			}
		case *sane.RangeConstraint:
			low, high := constraintInt(opt, c.Min), constraintInt(opt, c.Max)
			steps = steps[:0]
			for _, dpi := range rangeResolutions {
				if dpi >= low && dpi <= high {
					steps = append(steps, dpi)
				}
			}
			if len(steps) == 0 {
				steps = []int{high}
			}
		}
	}
	out := make([]abstract.Resolution, len(steps))
	for i, dpi := range steps {
		out[i] = abstract.Resolution{XResolution: dpi, YResolution: dpi}
	}
	return out, nil
}

// constraintInt projects a constraint word per the option's value type.
func constraintInt(opt *sane.Option, w sane.Word) int {
	if opt.Type() == sane.TypeFixed {
		return int(w.Fixed())
	}
	return int(w.Int())
}

// colorModes derives the offered color modes from the device's mode
// option constraint.
func (a *Adapter) colorModes() ([]abstract.ColorMode, error) {
	fallback := []abstract.ColorMode{abstract.ColorModeColor, abstract.ColorModeMono}
	opt, err := a.device.Option("mode")
	if err != nil {
		return fallback, nil
	}
	list, ok := opt.Constraint().(sane.StringListConstraint)
	if !ok {
		return fallback, nil
	}
	var modes []abstract.ColorMode
	for _, mode := range list {
		switch mode {
		case "Color":
			modes = append(modes, abstract.ColorModeColor)
		case "Gray", "Grayscale":
			modes = append(modes, abstract.ColorModeMono)
		case "Lineart", "Halftone":
			modes = append(modes, abstract.ColorModeBinary)
		}
	}
	if len(modes) == 0 {
		modes = []abstract.ColorMode{abstract.ColorModeColor}
	}
	return modes, nil
}

// Capabilities returns the scanner capabilities.
func (a *Adapter) Capabilities() *abstract.ScannerCapabilities {
	return a.caps
}

// Scan converts an eSCL request to option writes and executes one
// acquisition.
func (a *Adapter) Scan(ctx context.Context, req abstract.ScannerRequest) (abstract.Document, error) {
	if err := req.Validate(a.caps); err != nil {
		return nil, err
	}

	settings := config.DefaultSettings()
	if a.settings != nil {
		settings = a.settings.Get()
	}

	mode := a.modeValue(req.ColorMode, settings)
	dpi := req.Resolution.XResolution
	if dpi <= 0 {
		dpi = settings.Resolution
	}
	slog.Info("scan requested", "colorMode", req.ColorMode, "mode", mode, "resolution", dpi)

	if err := a.applyOptions(mode, dpi); err != nil {
		return nil, err
	}

	img, err := a.device.AcquireImage(nil)
	if err != nil {
		return nil, err
	}
	raster, err := imgio.ToImage(img)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, raster); err != nil {
		return nil, err
	}

	res := req.Resolution
	if res.IsZero() {
		if dpi <= 0 {
			dpi = 300
		}
		res = abstract.Resolution{XResolution: dpi, YResolution: dpi}
	}

	doc := &pngDocument{res: res, pages: [][]byte{buf.Bytes()}}

	// Apply filter for format conversion if needed
	if req.DocumentFormat != "" && req.DocumentFormat != "image/png" {
		return abstract.NewFilter(doc, abstract.FilterOptions{
			OutputFormat: req.DocumentFormat,
		}), nil
	}
	return doc, nil
}

// modeValue maps an eSCL color mode onto the backend's mode option
// vocabulary.
func (a *Adapter) modeValue(mode abstract.ColorMode, settings config.Settings) string {
	switch mode {
	case abstract.ColorModeColor:
		return "Color"
	case abstract.ColorModeMono:
		return "Gray"
	case abstract.ColorModeBinary:
		return "Lineart"
	default:
		return settings.Mode
	}
}

// applyOptions writes the negotiated mode and resolution. A missing or
// read-only option falls back to the backend default.
func (a *Adapter) applyOptions(mode string, dpi int) error {
	if mode != "" {
		if err := a.writeOption("mode", func(opt *sane.Option) error {
			_, err := opt.WriteString(mode)
			return err
		}); err != nil {
			return err
		}
	}
	if dpi > 0 {
		if err := a.writeOption("resolution", func(opt *sane.Option) error {
			var err error
			if opt.Type() == sane.TypeFixed {
				_, err = opt.WriteFixed(float64(dpi))
			} else {
				_, err = opt.WriteInt(dpi)
			}
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) writeOption(name string, write func(*sane.Option) error) error {
	opt, err := a.device.Option(name)
	if err != nil {
		slog.Debug("device has no such option, using backend default", "option", name)
		return nil
	}
	if err := write(opt); err != nil {
		var precondition *sane.PreconditionError
		if errors.As(err, &precondition) {
			slog.Warn("option not settable, using backend default", "option", name, "err", err)
			return nil
		}
		return err
	}
	return nil
}

// Close closes the underlying device.
func (a *Adapter) Close() error {
	return a.device.Close()
}

// --------------------------------------------------------------------------
// Document / DocumentFile implementation for PNG pages
// --------------------------------------------------------------------------

// pngDocument wraps rendered pages as an abstract.Document.
type pngDocument struct {
	res   abstract.Resolution
	pages [][]byte
	idx   int
}

func (d *pngDocument) Resolution() abstract.Resolution { return d.res }

func (d *pngDocument) Next() (abstract.DocumentFile, error) {
	if d.idx >= len(d.pages) {
		return nil, io.EOF
	}
	f := &pngFile{Reader: bytes.NewReader(d.pages[d.idx])}
	d.idx++
	return f, nil
}

func (d *pngDocument) Close() error { return nil }

// pngFile wraps a single PNG page as an abstract.DocumentFile.
type pngFile struct {
	*bytes.Reader
}

func (f *pngFile) Format() string { return "image/png" }

// Command sanescan drives a SANE network scanner from the terminal:
// discover saned instances, list devices and options, and acquire
// images as PNG, TIFF or PDF.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/lmittmann/tint"

	"github.com/lolhens/gosane/discovery"
	"github.com/lolhens/gosane/internal/imgio"
	"github.com/lolhens/gosane/sane"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	setupLogging()

	switch os.Args[1] {
	case "discover":
		if err := runDiscover(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "devices":
		if err := runDevices(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "options":
		if err := runOptions(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "scan":
		if err := runScan(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `sanescan - SANE network scanner client

Usage:
  sanescan <command> [flags]

Commands:
  discover    Find saned instances on the local network
  devices     List the devices a saned instance offers
  options     Show the option set of a device
  scan        Acquire an image and write it to a file
  help        Show this help message

Use "sanescan <command> -h" for more information about a command.
Defaults are read from %s when present.
`, defaultConfigPath())
}

func setupLogging() {
	level := slog.LevelWarn
	switch os.Getenv("SANESCAN_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})))
}

// commonFlags registers the flags every subcommand shares and returns
// the config/server targets they fill.
func commonFlags(fs *flag.FlagSet) (configPath, server *string) {
	configPath = fs.String("config", defaultConfigPath(), "config file")
	server = fs.String("server", "", "saned host or host:port")
	return
}

// resolveConfig loads the config file and applies the -server override.
// A missing file is tolerated; commands fall back to the defaults.
func resolveConfig(configPath, server string) (cliConfig, error) {
	cfg, err := loadConfig(configPath, false)
	if err != nil {
		return cliConfig{}, err
	}
	if server != "" {
		cfg.Server = server
	}
	return cfg, nil
}

// connect opens a session against the configured server and installs
// credentials when a password file is available.
func connect(cfg cliConfig) (*sane.Session, error) {
	host, port := splitServer(cfg.Server)
	session, err := sane.Open(host, port, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	if cfg.PassFile != "" {
		provider, err := sane.FilePasswordProvider(cfg.PassFile)
		if err != nil {
			session.Close()
			return nil, err
		}
		session.SetPasswordProvider(provider)
	} else if provider, err := sane.DefaultPasswordProvider(); err == nil {
		session.SetPasswordProvider(provider)
	}
	return session, nil
}

func splitServer(server string) (string, int) {
	host, portStr, err := net.SplitHostPort(server)
	if err != nil {
		return server, sane.DefaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return host, sane.DefaultPort
	}
	return host, port
}

func runDiscover(args []string) error {
	fs := flag.NewFlagSet("discover", flag.ExitOnError)
	timeout := fs.Duration("timeout", 5*time.Second, "how long to browse")
	fs.Parse(args)

	servers, err := discovery.FindServers(context.Background(), discovery.Options{Timeout: *timeout})
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Println("no saned instances found")
		return nil
	}
	for _, s := range servers {
		fmt.Printf("%-30s %s\n", s.Instance, s.Addr())
	}
	return nil
}

func runDevices(args []string) error {
	fs := flag.NewFlagSet("devices", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	fs.Parse(args)

	cfg, err := resolveConfig(*configPath, *server)
	if err != nil {
		return err
	}
	session, err := connect(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	devices, err := session.ListDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("no devices")
		return nil
	}
	for _, d := range devices {
		fmt.Printf("%-30s %s %s (%s)\n", d.Name(), d.Vendor(), d.Model(), d.Type())
	}
	return nil
}

func runOptions(args []string) error {
	fs := flag.NewFlagSet("options", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	deviceName := fs.String("device", "", "device name")
	fs.Parse(args)

	cfg, err := resolveConfig(*configPath, *server)
	if err != nil {
		return err
	}
	if *deviceName != "" {
		cfg.Device = *deviceName
	}
	session, err := connect(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	device, err := pickDevice(session, cfg.Device)
	if err != nil {
		return err
	}
	if err := device.Open(); err != nil {
		return err
	}
	defer device.Close()

	groups, err := device.OptionGroups()
	if err != nil {
		return err
	}
	options, err := device.ListOptions()
	if err != nil {
		return err
	}

	grouped := make(map[string]bool)
	for _, g := range groups {
		fmt.Printf("%s:\n", g.Title())
		for _, o := range g.Options() {
			grouped[o.Name()] = true
			printOption(o)
		}
	}
	for _, o := range options {
		if !grouped[o.Name()] {
			printOption(o)
		}
	}
	return nil
}

func printOption(o *sane.Option) {
	if o.Name() == "" {
		return
	}
	value := ""
	switch {
	case !o.Readable() || !o.Active():
	case o.Type() == sane.TypeString:
		if v, err := o.ReadString(); err == nil {
			value = v
		}
	case o.Type() == sane.TypeInt:
		if v, err := o.ReadIntArray(); err == nil {
			value = fmt.Sprint(v)
		}
	case o.Type() == sane.TypeFixed:
		if v, err := o.ReadFixedArray(); err == nil {
			value = fmt.Sprint(v)
		}
	case o.Type() == sane.TypeBool:
		if v, err := o.ReadBool(); err == nil {
			value = fmt.Sprint(v)
		}
	}
	unit := ""
	if o.Unit() != sane.UnitNone {
		unit = o.Unit().String()
	}
	fmt.Printf("  %-24s %-8s %8s %s  %s\n", o.Name(), o.Type(), value, unit, constraintString(o.Constraint()))
}

func constraintString(c sane.Constraint) string {
	switch c := c.(type) {
	case *sane.RangeConstraint:
		return fmt.Sprintf("[%d..%d]", c.Min.Int(), c.Max.Int())
	case sane.WordListConstraint:
		out := make([]int32, len(c))
		for i, w := range c {
			out[i] = w.Int()
		}
		return fmt.Sprint(out)
	case sane.StringListConstraint:
		return fmt.Sprint([]string(c))
	default:
		return ""
	}
}

func runScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath, server := commonFlags(fs)
	deviceName := fs.String("device", "", "device name")
	output := fs.String("output", "scan.png", "output file (.png, .tiff or .pdf)")
	resolution := fs.Int("resolution", 0, "scan resolution in DPI")
	mode := fs.String("mode", "", "scan mode, e.g. Color or Gray")
	fs.Parse(args)

	cfg, err := resolveConfig(*configPath, *server)
	if err != nil {
		return err
	}
	if *deviceName != "" {
		cfg.Device = *deviceName
	}
	if *resolution != 0 {
		cfg.Resolution = *resolution
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	session, err := connect(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	device, err := pickDevice(session, cfg.Device)
	if err != nil {
		return err
	}
	if err := device.Open(); err != nil {
		return err
	}
	defer device.Close()

	if cfg.Mode != "" {
		if opt, err := device.Option("mode"); err == nil {
			if _, err := opt.WriteString(cfg.Mode); err != nil {
				return fmt.Errorf("set mode: %w", err)
			}
		}
	}
	if cfg.Resolution > 0 {
		if opt, err := device.Option("resolution"); err == nil {
			if _, err := opt.WriteInt(cfg.Resolution); err != nil {
				return fmt.Errorf("set resolution: %w", err)
			}
		}
	}

	listener := sane.RateLimitListener(&progressListener{out: os.Stderr}, 200*time.Millisecond)
	img, err := device.AcquireImage(listener)
	if err != nil {
		return err
	}

	raster, err := imgio.ToImage(img)
	if err != nil {
		return err
	}
	dpi := cfg.Resolution
	if dpi == 0 {
		dpi = 300
	}
	format := imgio.FormatForPath(*output)
	if err := imgio.Write(*output, format, raster, dpi); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%dx%d, depth %d)\n", *output, img.Width(), img.Height(), img.Depth())
	return nil
}

func pickDevice(session *sane.Session, name string) (*sane.Device, error) {
	if name != "" {
		return session.Device(name), nil
	}
	devices, err := session.ListDevices()
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("daemon reports no devices")
	}
	return devices[0], nil
}

// progressListener prints acquisition progress to the terminal.
type progressListener struct {
	sane.NopListener
	out *os.File
}

func (l *progressListener) FrameAcquisitionStarted(_ *sane.Device, p sane.Parameters, frame, likelyTotal int) {
	fmt.Fprintf(l.out, "frame %d/%d: %s\n", frame+1, likelyTotal, p)
}

func (l *progressListener) RecordRead(_ *sane.Device, bytesRead, expected int) {
	if expected > 0 {
		fmt.Fprintf(l.out, "\r%3d%%", 100*bytesRead/expected)
	} else {
		fmt.Fprintf(l.out, "\r%d bytes", bytesRead)
	}
}

func (l *progressListener) ScanningFinished(*sane.Device) {
	fmt.Fprintln(l.out)
}

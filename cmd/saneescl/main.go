// Command saneescl bridges a SANE network scanner to eSCL/AirScan:
// it opens a device on a saned instance and serves it as an
// mDNS-advertised eSCL scanner for sane-airscan, macOS and mobile
// clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/OpenPrinting/go-mfp/proto/escl"
	"github.com/grandcat/zeroconf"

	"github.com/lolhens/gosane/discovery"
	"github.com/lolhens/gosane/internal/bridge"
	"github.com/lolhens/gosane/internal/config"
	"github.com/lolhens/gosane/internal/webui"
	"github.com/lolhens/gosane/sane"
)

func main() {
	logLevel := parseLogLevel(envStr("SANEESCL_LOG_LEVEL", "info"))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Parse configuration from environment variables
	server := os.Getenv("SANEESCL_SERVER")
	deviceName := os.Getenv("SANEESCL_DEVICE")
	listenPort := envInt("SANEESCL_LISTEN_PORT", 8080)
	passFile := os.Getenv("SANEESCL_PASS_FILE")
	dataDir := os.Getenv("SANEESCL_DATA_DIR")
	mdnsName := os.Getenv("SANEESCL_NAME")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Discover a saned instance if none was specified
	host, port := splitServer(server)
	if host == "" {
		slog.Info("discovering saned...")
		found, err := discovery.FindServer(ctx, discovery.Options{Timeout: 15 * time.Second})
		if err != nil {
			slog.Error("saned discovery failed", "err", err)
			os.Exit(1)
		}
		host, port = found.Host, found.Port
		slog.Info("saned found", "host", host, "port", port)
	}

	session, err := sane.Open(host, port, 30*time.Second)
	if err != nil {
		slog.Error("session open failed", "err", err)
		os.Exit(1)
	}
	defer session.Close()

	if provider := passwordProvider(passFile); provider != nil {
		session.SetPasswordProvider(provider)
	}

	device, err := pickDevice(session, deviceName)
	if err != nil {
		slog.Error("device selection failed", "err", err)
		os.Exit(1)
	}
	if err := device.Open(); err != nil {
		slog.Error("device open failed", "device", device.Name(), "err", err)
		os.Exit(1)
	}
	defer device.Close()
	slog.Info("device open", "device", device.Name(), "vendor", device.Vendor(), "model", device.Model())

	// Settings store
	var settings *config.Store
	if dataDir != "" {
		settings, err = config.NewStore(dataDir)
		if err != nil {
			slog.Error("settings store failed", "dir", dataDir, "err", err)
			os.Exit(1)
		}
	} else {
		settings = config.NewMemoryStore()
	}

	// Create eSCL adapter
	adapter, err := bridge.New(device, settings)
	if err != nil {
		slog.Error("adapter setup failed", "err", err)
		os.Exit(1)
	}

	// Create eSCL HTTP server (BasePath="" so it handles paths directly)
	esclServer := escl.NewAbstractServer(escl.AbstractServerOptions{
		Scanner:  adapter,
		BasePath: "",
	})

	serverAddr := net.JoinHostPort(host, strconv.Itoa(port))
	mux := http.NewServeMux()
	// Serve at /eSCL/ for clients using the rs TXT record (sane-airscan, macOS)
	mux.Handle("/eSCL/", http.StripPrefix("/eSCL", esclServer))
	mux.Handle("/api/", webui.NewHandler(device, adapter, serverAddr, listenPort, settings))
	// Also serve at root for clients that ignore rs
	mux.Handle("/", esclServer)

	addr := fmt.Sprintf(":%d", listenPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: logMiddleware(mux),
	}

	if mdnsName == "" {
		mdnsName = device.Model()
	}
	if mdnsName == "" {
		mdnsName = "SANE Scanner"
	}

	// Start mDNS advertisement
	mdnsServer, err := zeroconf.Register(
		mdnsName,
		"_uscan._tcp",
		"local.",
		listenPort,
		[]string{
			"txtvers=1",
			"ty=" + mdnsName,
			"pdl=application/pdf,image/png",
			"cs=color,grayscale,binary",
			"is=platen",
			"rs=eSCL",
		},
		nil,
	)
	if err != nil {
		slog.Error("mDNS registration failed", "err", err)
		os.Exit(1)
	}
	defer mdnsServer.Shutdown()
	slog.Info("mDNS registered", "name", mdnsName, "service", "_uscan._tcp")

	// Start HTTP server
	go func() {
		slog.Info("eSCL server starting", "addr", addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("HTTP server error", "err", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "err", err)
	}

	slog.Info("shutdown complete")
}

// splitServer parses "host" or "host:port"; an empty input yields an
// empty host, which triggers discovery.
func splitServer(server string) (string, int) {
	if server == "" {
		return "", sane.DefaultPort
	}
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

// passwordProvider loads credentials from the given file, or from the
// conventional ~/.sane/pass when it exists.
func passwordProvider(path string) sane.PasswordProvider {
	if path != "" {
		p, err := sane.FilePasswordProvider(path)
		if err != nil {
			slog.Error("credential file unreadable", "path", path, "err", err)
			os.Exit(1)
		}
		return p
	}
	p, err := sane.DefaultPasswordProvider()
	if err != nil {
		slog.Debug("no default credential file", "err", err)
		return nil
	}
	return p
}

// pickDevice selects the named device, or the first one the daemon
// reports.
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

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// responseRecorder captures the status code for logging.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &responseRecorder{ResponseWriter: w, status: 200}
		start := time.Now()
		next.ServeHTTP(rec, r)
		slog.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"remote", r.RemoteAddr,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

// Package webui serves the bridge's status and settings API.
package webui

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/lolhens/gosane/internal/bridge"
	"github.com/lolhens/gosane/internal/config"
	"github.com/lolhens/gosane/sane"
)

type handler struct {
	adapter    *bridge.Adapter
	device     *sane.Device
	serverAddr string
	listenPort int
	settings   *config.Store
}

// NewHandler creates an HTTP handler for the status and settings API.
func NewHandler(device *sane.Device, adapter *bridge.Adapter, serverAddr string, listenPort int, settings *config.Store) http.Handler {
	h := &handler{
		adapter:    adapter,
		device:     device,
		serverAddr: serverAddr,
		listenPort: listenPort,
		settings:   settings,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", h.handleStatus)
	mux.HandleFunc("GET /api/settings", h.handleGetSettings)
	mux.HandleFunc("PUT /api/settings", h.handlePutSettings)
	return mux
}

type statusResponse struct {
	Device    deviceInfo `json:"device"`
	Caps      capsInfo   `json:"capabilities"`
	ESCLUrl   string     `json:"esclUrl"`
	UpdatedAt string     `json:"updatedAt"`
}

type deviceInfo struct {
	Name   string `json:"name"`
	Vendor string `json:"vendor"`
	Model  string `json:"model"`
	Server string `json:"server"`
}

type capsInfo struct {
	Resolutions []int    `json:"resolutions"`
	ColorModes  []string `json:"colorModes"`
	Formats     []string `json:"formats"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	caps := h.adapter.Capabilities()

	resp := statusResponse{
		Device: deviceInfo{
			Name:   h.device.Name(),
			Vendor: h.device.Vendor(),
			Model:  h.device.Model(),
			Server: h.serverAddr,
		},
		Caps: capsInfo{
			Formats: caps.DocumentFormats,
		},
		ESCLUrl:   fmt.Sprintf("http://localhost:%d/eSCL", h.listenPort),
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if platen := caps.Platen; platen != nil && len(platen.Profiles) > 0 {
		for _, res := range platen.Profiles[0].Resolutions {
			resp.Caps.Resolutions = append(resp.Caps.Resolutions, res.XResolution)
		}
	}
	if opt, err := h.device.Option("mode"); err == nil {
		if list, ok := opt.Constraint().(sane.StringListConstraint); ok {
			resp.Caps.ColorModes = []string(list)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// --- Settings API ---

func (h *handler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.settings.Get())
}

func (h *handler) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var s config.Settings
	if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.settings.Update(s); err != nil {
		slog.Warn("settings save failed", "err", err)
		http.Error(w, "failed to save settings", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

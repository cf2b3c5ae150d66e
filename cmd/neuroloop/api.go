package main

import (
	"encoding/json"
	"net/http"

	"github.com/satindergrewal/neuroloop/internal/loop"
	"github.com/satindergrewal/neuroloop/internal/policy"
	"github.com/satindergrewal/neuroloop/internal/stream"
)

// commandCounter reports how many commands reached the stimulator port.
type commandCounter interface {
	Sent() int
}

// api serves operator status and control next to the band streams.
type api struct {
	loop    *loop.Loop
	device  commandCounter
	presets policy.Presets
	bands   *stream.Broadcaster
	webrtc  *stream.WebRTCHandler
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Band streams
	mux.Handle("/bands", stream.NewHTTPHandler(a.bands))
	mux.Handle("/offer", a.webrtc)

	// API endpoints
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/bands", a.handleLatestBands)
	mux.HandleFunc("/api/presets", a.handlePresets)
	mux.HandleFunc("/api/preset", a.handlePreset)
	mux.HandleFunc("/api/policy", a.handlePolicy)
	return mux
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	status := map[string]any{
		"loop":             a.loop.Status(),
		"http_listeners":   a.bands.ListenerCount(),
		"webrtc_listeners": a.webrtc.PeerCount(),
	}
	if a.device != nil {
		status["device_commands"] = a.device.Sent()
	}
	json.NewEncoder(w).Encode(status)
}

func (a *api) handleLatestBands(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(a.bands.Latest())
}

func (a *api) handlePresets(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"presets": a.presets,
		"current": a.loop.Status().Policy.Preset,
	})
}

// handlePreset selects an intensity preset. It applies from the next cycle.
func (a *api) handlePreset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Preset int `json:"preset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	next, err := a.loop.UpdatePolicy(func(cur policy.Config) (policy.Config, error) {
		return cur.WithPreset(a.presets, req.Preset)
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "preset": next.Preset, "range": next.Range})
}

// handlePolicy switches the stimulation rule. Switching to baseline-relative
// without a baseline spends the next window on calibration.
func (a *api) handlePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Variant         policy.Variant `json:"variant"`
		PolicyIndicator *bool          `json:"policy_indicator"`
		Indicator       *bool          `json:"indicator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	next, err := a.loop.UpdatePolicy(func(cur policy.Config) (policy.Config, error) {
		if req.Variant != "" {
			cur.Variant = req.Variant
		}
		if req.PolicyIndicator != nil {
			cur.PolicyIndicator = *req.PolicyIndicator
		}
		if req.Indicator != nil {
			cur.Indicator = *req.Indicator
		}
		return cur, nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "policy": next})
}

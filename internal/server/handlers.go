package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nvandessel/stochsim/internal/decision"
	"github.com/nvandessel/stochsim/internal/models"
	"github.com/nvandessel/stochsim/internal/montecarlo"
	"github.com/nvandessel/stochsim/internal/playback"
	"github.com/nvandessel/stochsim/internal/ratelimit"
)

// Control actions accepted by POST /api/control and WebSocket messages.
const (
	ActionStart = "start"
	ActionPause = "pause"
	ActionReset = "reset"
	ActionRate  = "rate"
)

var errUnknownAction = errors.New("unknown action")

// ControlRequest changes the engine's mode or rate.
type ControlRequest struct {
	Action string  `json:"action"`
	Rate   float64 `json:"rate,omitempty"`
}

// ControlResponse reports the engine state after a control request.
type ControlResponse struct {
	RunID string        `json:"run_id"`
	Mode  playback.Mode `json:"mode"`
	Rate  float64       `json:"rate"`
	Error string        `json:"error,omitempty"`
}

// HistogramResponse is the body of GET /api/histogram.
type HistogramResponse struct {
	RunID     string             `json:"run_id"`
	View      models.View        `json:"view"`
	Bins      []models.Bin       `json:"bins"`
	Reference []models.Point     `json:"reference"`
	Summary   montecarlo.Summary `json:"summary"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "stochsim",
		"endpoints": []string{
			"GET /api/snapshot", "GET /api/histogram", "GET /api/loss",
			"POST /api/control", "GET /ws", "GET /metrics",
		},
	})
}

// handleSnapshot returns a full frame. Query parameters override the
// server's frame options.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	opts, err := frameOptions(r.URL.Query(), s.opts.Frame)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var frame playback.Frame
	if err := s.driver.Do(r.Context(), func(e *playback.Engine) { frame = e.Frame(opts) }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

// handleHistogram returns the terminal histogram with its reference density.
func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	opts, err := frameOptions(r.URL.Query(), s.opts.Frame)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var resp HistogramResponse
	err = s.driver.Do(r.Context(), func(e *playback.Engine) {
		f := e.Frame(playback.FrameOptions{Bins: opts.Bins, View: opts.View, Reference: true})
		resp = HistogramResponse{
			RunID:     f.RunID,
			View:      opts.View,
			Bins:      f.Histogram,
			Reference: f.Reference,
			Summary:   f.Summary,
		}
	})
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	if resp.View == "" {
		resp.View = models.ViewLinear
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleLoss analyzes the current sample. The analysis runs on a copy, off
// the driver goroutine.
func (s *Server) handleLoss(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loss := s.opts.Loss
	if name := q.Get("loss"); name != "" || q.Has("tau") {
		if name == "" {
			name = string(loss.Kind)
		}
		tau := loss.Tau
		if v := q.Get("tau"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid tau: %s", v))
				return
			}
			tau = f
		}
		l, err := decision.ParseLoss(name, tau)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		loss = l
	}
	grid := s.opts.GridPoints
	if v := q.Get("grid"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 2 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid grid: %s (must be an integer >= 2)", v))
			return
		}
		grid = n
	}

	var samples []float64
	if err := s.driver.Do(r.Context(), func(e *playback.Engine) { samples = e.Samples() }); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	res, err := decision.Analyze(samples, loss, grid)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleControl applies a control request, rate limited per client address.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if l := s.opts.ControlLimiter; l != nil {
		if wait := l.Reserve(clientKey(r)); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeError(w, http.StatusTooManyRequests, &ratelimit.LimitError{Key: "control", RetryAfter: wait})
			return
		}
	}

	var req ControlRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	resp, err := s.control(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, playback.ErrFaulted):
		resp.Error = err.Error()
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		resp.Error = err.Error()
		writeJSON(w, http.StatusBadRequest, resp)
	}
}

// control applies req on the driver goroutine and reports the resulting state.
func (s *Server) control(ctx context.Context, req ControlRequest) (ControlResponse, error) {
	var resp ControlResponse
	var actionErr error
	err := s.driver.Do(ctx, func(e *playback.Engine) {
		switch req.Action {
		case ActionStart:
			actionErr = e.Start()
		case ActionPause:
			e.Pause()
		case ActionReset:
			e.Reset()
		case ActionRate:
			actionErr = e.SetRate(req.Rate)
		default:
			actionErr = fmt.Errorf("%w: %q (valid: start, pause, reset, rate)", errUnknownAction, req.Action)
		}
		resp = ControlResponse{RunID: e.RunID(), Mode: e.Mode(), Rate: e.Rate()}
	})
	if err != nil {
		return resp, err
	}
	s.logger.Debug("control", "action", req.Action, "mode", resp.Mode.String(), "error", actionErr)
	return resp, actionErr
}

// handleControlMessage applies a control request received over WebSocket.
// It draws on the same per-client budget as POST /api/control; a message over
// budget is dropped.
func (s *Server) handleControlMessage(ctx context.Context, client string, data []byte) {
	if l := s.opts.ControlLimiter; l != nil {
		if wait := l.Reserve(client); wait > 0 {
			s.logger.Debug("dropping rate limited websocket message", "client", client, "retry_after", wait)
			return
		}
	}
	var req ControlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Debug("ignoring websocket message", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.control(ctx, req); err != nil {
		s.logger.Debug("websocket control failed", "action", req.Action, "error", err)
	}
}

// frameOptions overlays query parameters on defaults.
func frameOptions(q url.Values, defaults playback.FrameOptions) (playback.FrameOptions, error) {
	opts := defaults
	if v := q.Get("bins"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("invalid bins: %s", v)
		}
		opts.Bins = n
	}
	if v := q.Get("view"); v != "" {
		view, ok := models.ParseView(v)
		if !ok {
			return opts, fmt.Errorf("invalid view: %s (valid: linear, log)", v)
		}
		opts.View = view
	}
	flags := []struct {
		name string
		dst  *bool
	}{
		{"background", &opts.Background},
		{"terminals", &opts.Terminals},
		{"reference", &opts.Reference},
		{"decompose", &opts.Decompose},
		{"envelope", &opts.Envelope},
	}
	for _, f := range flags {
		if v := q.Get(f.name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return opts, fmt.Errorf("invalid %s: %s", f.name, v)
			}
			*f.dst = b
		}
	}
	return opts, nil
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON encodes v before writing the header so an unencodable value
// becomes a 500 rather than an empty body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data, _ = json.Marshal(map[string]string{"error": fmt.Sprintf("encoding response: %v", err)})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

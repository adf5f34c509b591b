// Package api serves the HTTP command surface of the flight controller:
// mode, maneuver and target commands, the status snapshot, the flight log
// transitions and a live chart of recent samples.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/coaxctl/internal/db"
	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
	"github.com/banshee-data/coaxctl/internal/httputil"
	"github.com/banshee-data/coaxctl/internal/monitoring"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes caps command request bodies.
const maxBodyBytes = 4096

// Controller is the command interface of the flight core.
type Controller interface {
	SetMode(ctx context.Context, req flight.ModeRequest) error
	SetTrajectoryType(id int) error
	SetTargetPose(x, y, z, yaw float64) trajectory.Pose
	Status() flight.Status
}

// FlightLog is the read side of the flight log.
type FlightLog interface {
	Transitions(session string, limit int) ([]db.Transition, error)
	RecentSamples(session string, limit int) ([]db.SampleRow, error)
}

type Server struct {
	ctl     Controller
	log     FlightLog
	session string
	extras  map[string]func() any
}

// NewServer returns a server for ctl. log may be nil when the flight log is
// disabled, in which case the log endpoints answer 503.
func NewServer(ctl Controller, log FlightLog, session string) *Server {
	return &Server{ctl: ctl, log: log, session: session, extras: map[string]func() any{}}
}

// AddStatus adds a named section to the /api/status response, evaluated on
// every request.
func (s *Server) AddStatus(name string, f func() any) {
	s.extras[name] = f
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/mode", s.handleMode)
	mux.HandleFunc("/api/trajectory", s.handleTrajectory)
	mux.HandleFunc("/api/target", s.handleTarget)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/transitions", s.handleTransitions)
	mux.HandleFunc("/charts/flight", s.handleFlightChart)
	return mux
}

// commandResult is the reply to every command. Result is 0 on success and
// -1 on rejection.
type commandResult struct {
	Result int             `json:"result"`
	Error  string          `json:"error,omitempty"`
	Mode   string          `json:"mode,omitempty"`
	Target *targetResponse `json:"target,omitempty"`
}

type targetResponse struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Z   float64 `json:"z"`
	Yaw float64 `json:"yaw"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return false
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.BadRequest(w, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeResult maps a controller error to the command reply.
func (s *Server) writeResult(w http.ResponseWriter, err error) {
	if err == nil {
		httputil.WriteJSONOK(w, commandResult{Result: 0, Mode: s.ctl.Status().Mode})
		return
	}
	status := http.StatusConflict
	if errors.Is(err, flight.ErrUnknownMode) || errors.Is(err, flight.ErrUnknownManeuver) {
		status = http.StatusBadRequest
	}
	httputil.WriteJSON(w, status, commandResult{Result: flight.ResultCode(err), Error: err.Error()})
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode *int `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Mode == nil {
		httputil.BadRequest(w, "missing mode")
		return
	}
	s.writeResult(w, s.ctl.SetMode(r.Context(), flight.ModeRequest(*req.Mode)))
}

func (s *Server) handleTrajectory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type *int `json:"type"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == nil {
		httputil.BadRequest(w, "missing type")
		return
	}
	s.writeResult(w, s.ctl.SetTrajectoryType(*req.Type))
}

func (s *Server) handleTarget(w http.ResponseWriter, r *http.Request) {
	var req targetResponse
	if !decodeBody(w, r, &req) {
		return
	}
	p := s.ctl.SetTargetPose(req.X, req.Y, req.Z, req.Yaw)
	httputil.WriteJSONOK(w, commandResult{
		Result: 0,
		Target: &targetResponse{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z, Yaw: p.Yaw},
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := struct {
		flight.Status
		Session string         `json:"session,omitempty"`
		Extras  map[string]any `json:"extras,omitempty"`
	}{Status: s.ctl.Status(), Session: s.session}
	if len(s.extras) > 0 {
		resp.Extras = make(map[string]any, len(s.extras))
		for name, f := range s.extras {
			resp.Extras[name] = f()
		}
	}
	httputil.WriteJSONOK(w, resp)
}

// queryLimit parses ?limit=, bounded to [1, max].
func queryLimit(r *http.Request, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}

func (s *Server) handleTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.log == nil {
		httputil.ServiceUnavailable(w, "flight log disabled")
		return
	}
	trs, err := s.log.Transitions(s.session, queryLimit(r, 100, 10000))
	if err != nil {
		httputil.InternalServerError(w, "failed to read transitions: "+err.Error())
		return
	}
	if trs == nil {
		trs = []db.Transition{}
	}
	httputil.WriteJSONOK(w, trs)
}

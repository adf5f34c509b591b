package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coaxctl/internal/db"
	"github.com/banshee-data/coaxctl/internal/flight"
	"github.com/banshee-data/coaxctl/internal/flight/trajectory"
	"github.com/banshee-data/coaxctl/internal/monitoring"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// fakeController records commands and answers with canned errors.
type fakeController struct {
	mu       sync.Mutex
	modes    []flight.ModeRequest
	modeErr  error
	trajErr  error
	maneuver int
	target   trajectory.Pose
}

func (f *fakeController) SetMode(_ context.Context, req flight.ModeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes = append(f.modes, req)
	return f.modeErr
}

func (f *fakeController) SetTrajectoryType(id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trajErr == nil {
		f.maneuver = id
	}
	return f.trajErr
}

func (f *fakeController) SetTargetPose(x, y, z, yaw float64) trajectory.Pose {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = trajectory.Pose{Position: r3.Vec{X: min(x, 2), Y: y, Z: max(z, 0.1)}, Yaw: yaw}
	return f.target
}

func (f *fakeController) Status() flight.Status {
	return flight.Status{Mode: "HOVER", ModeCode: int(flight.ModeHover), Volts: 12.1}
}

func newTestServer(t *testing.T, log FlightLog) (*fakeController, http.Handler) {
	t.Helper()
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	ctl := &fakeController{}
	s := NewServer(ctl, log, "session-1")
	return ctl, LoggingMiddleware(s.ServeMux())
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(w.Body.Bytes(), &out)
	}
	return w, out
}

func TestModeEndpoint(t *testing.T) {
	ctl, h := newTestServer(t, nil)

	w, out := do(t, h, http.MethodPost, "/api/mode", `{"mode":1}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, out["result"])
	assert.Equal(t, "HOVER", out["mode"])
	assert.Equal(t, []flight.ModeRequest{flight.RequestStart}, ctl.modes)

	ctl.modeErr = fmt.Errorf("%w: start requires LANDED", flight.ErrRejected)
	w, out = do(t, h, http.MethodPost, "/api/mode", `{"mode":1}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, -1.0, out["result"])
	assert.Contains(t, out["error"], "start requires LANDED")

	ctl.modeErr = fmt.Errorf("%w: 7", flight.ErrUnknownMode)
	w, out = do(t, h, http.MethodPost, "/api/mode", `{"mode":7}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, -1.0, out["result"])
}

func TestModeEndpointBadRequests(t *testing.T) {
	_, h := newTestServer(t, nil)
	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"not json", http.MethodPost, "mode=1", http.StatusBadRequest},
		{"missing mode", http.MethodPost, `{}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, `{"mode":1,"force":true}`, http.StatusBadRequest},
		{"too large", http.MethodPost, `{"mode":1,"x":"` + strings.Repeat("a", maxBodyBytes) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := do(t, h, tt.method, "/api/mode", tt.body)
			assert.Equal(t, tt.want, w.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestTrajectoryEndpoint(t *testing.T) {
	ctl, h := newTestServer(t, nil)

	w, out := do(t, h, http.MethodPost, "/api/trajectory", `{"type":3}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, out["result"])
	assert.Equal(t, 3, ctl.maneuver)

	ctl.trajErr = fmt.Errorf("%w: 9", flight.ErrUnknownManeuver)
	w, out = do(t, h, http.MethodPost, "/api/trajectory", `{"type":9}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, -1.0, out["result"])
}

func TestTargetEndpointReturnsClampedPose(t *testing.T) {
	_, h := newTestServer(t, nil)
	w, out := do(t, h, http.MethodPost, "/api/target", `{"x":5,"y":1,"z":0,"yaw":0.5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, out["result"])
	assert.Equal(t, map[string]any{"x": 2.0, "y": 1.0, "z": 0.1, "yaw": 0.5}, out["target"])
}

func TestStatusEndpoint(t *testing.T) {
	ctl := &fakeController{}
	s := NewServer(ctl, nil, "session-1")
	s.AddStatus("link", func() any { return map[string]int{"odometry": 42} })
	h := s.ServeMux()

	w, out := do(t, h, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "HOVER", out["mode"])
	assert.Equal(t, 12.1, out["battery_volts"])
	assert.Equal(t, "session-1", out["session"])
	assert.Equal(t, map[string]any{"link": map[string]any{"odometry": 42.0}}, out["extras"])

	w, _ = do(t, h, http.MethodPost, "/api/status", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLogEndpointsWithoutLog(t *testing.T) {
	_, h := newTestServer(t, nil)
	for _, path := range []string{"/api/transitions", "/charts/flight"} {
		w, _ := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func seedLog(t *testing.T) (*db.DB, string) {
	t.Helper()
	database := cloneAPITestDB(t)
	s, err := database.StartSession(t0, 56, "")
	require.NoError(t, err)
	require.NoError(t, database.RecordTransition(s.ID, t0, flight.ModeLanded, flight.ModeStart))
	require.NoError(t, database.RecordTransition(s.ID, t0.Add(6*time.Second), flight.ModeStart, flight.ModeHover))

	var samples []flight.Sample
	for i := 0; i < 20; i++ {
		samples = append(samples, flight.Sample{
			At:        t0.Add(time.Duration(i) * 10 * time.Millisecond),
			Mode:      flight.ModeHover,
			State:     flight.VehicleState{Position: r3.Vec{Z: 0.3}},
			Reference: trajectory.Static(trajectory.Pose{Position: r3.Vec{Z: 0.3}}),
			Command:   flight.ActuatorCommand{Upper: 0.5, Lower: 0.52},
		})
	}
	require.NoError(t, database.RecordSamples(s.ID, samples))
	return database, s.ID
}

func TestTransitionsEndpoint(t *testing.T) {
	database, session := seedLog(t)
	s := NewServer(&fakeController{}, database, session)
	h := s.ServeMux()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transitions?limit=1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got []db.Transition
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "HOVER", got[0].To)

	empty := NewServer(&fakeController{}, database, "other").ServeMux()
	w = httptest.NewRecorder()
	empty.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/transitions", nil))
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestFlightChart(t *testing.T) {
	database, session := seedLog(t)
	h := NewServer(&fakeController{}, database, session).ServeMux()

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/charts/flight?limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Contains(t, body, "Altitude")
	assert.Contains(t, body, "Actuator commands")
	assert.Contains(t, body, "samples=10 mode=HOVER")
}

func TestQueryLimit(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=50", nil)
	assert.Equal(t, 50, queryLimit(r, 10, 100))
	r = httptest.NewRequest(http.MethodGet, "/?limit=5000", nil)
	assert.Equal(t, 100, queryLimit(r, 10, 100))
	r = httptest.NewRequest(http.MethodGet, "/?limit=-1", nil)
	assert.Equal(t, 10, queryLimit(r, 10, 100))
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, 10, queryLimit(r, 10, 100))
}

func TestStatusCodeColor(t *testing.T) {
	assert.Contains(t, statusCodeColor(200), colorBoldGreen)
	assert.Contains(t, statusCodeColor(302), colorYellow)
	assert.Contains(t, statusCodeColor(409), colorBoldRed)
	assert.Equal(t, "100", statusCodeColor(100))
}

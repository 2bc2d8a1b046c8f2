package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/vesaa/signalboost/internal/apperr"
	"github.com/vesaa/signalboost/internal/engine"
	"github.com/vesaa/signalboost/internal/models"
	"github.com/vesaa/signalboost/internal/netinfo"
	"github.com/vesaa/signalboost/internal/profile"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeOptimizer struct {
	started  *engine.Options
	startErr error
	stopErr  error
	level    profile.Level
}

func (f *fakeOptimizer) Start(_ context.Context, opts engine.Options) (engine.ApplyReport, error) {
	if f.startErr != nil {
		return engine.ApplyReport{}, f.startErr
	}
	f.started = &opts
	return engine.ApplyReport{SessionID: "s1", Success: true, Applied: []string{engine.StepTCP}}, nil
}

func (f *fakeOptimizer) Stop(context.Context) (engine.RestoreReport, error) {
	if f.stopErr != nil {
		return engine.RestoreReport{}, f.stopErr
	}
	return engine.RestoreReport{SessionID: "s1", Restored: []string{"sysctl:a"}, LoopJoined: true}, nil
}

func (f *fakeOptimizer) SetLevel(_ context.Context, l profile.Level) (engine.ApplyReport, error) {
	f.level = l
	return engine.ApplyReport{SessionID: "s1", Level: l, Trigger: engine.TriggerLevel}, nil
}

func (f *fakeOptimizer) Status() engine.Status {
	return engine.Status{Active: true, State: "active", CurrentSpeed: 5, TargetSpeed: 20, Level: profile.Standard, OptimizationValue: 25}
}

func (f *fakeOptimizer) CurrentMetrics() engine.Metrics {
	return engine.Metrics{Snapshot: netinfo.Snapshot{DownloadMbps: 5, SignalStrength: -1}, SignalText: "N/A", Features: map[string]bool{"dns_prefetching": true}}
}

func (f *fakeOptimizer) History() []netinfo.Snapshot {
	return []netinfo.Snapshot{{DownloadMbps: 4}, {DownloadMbps: 5}}
}

func (f *fakeOptimizer) ListInterfaces(context.Context) ([]netinfo.Interface, error) {
	return []netinfo.Interface{{Name: "eth0", Up: true}}, nil
}

type fakeStore struct{}

func (fakeStore) RecentSnapshots(_ context.Context, limit int) ([]models.SnapshotRecord, error) {
	return make([]models.SnapshotRecord, limit), nil
}

func (fakeStore) Sessions(context.Context, int) ([]models.Session, error) {
	return []models.Session{{UUID: "s1", Level: "standard"}}, nil
}

func (fakeStore) Session(_ context.Context, id string) (*models.Session, error) {
	if id != "s1" {
		return nil, gorm.ErrRecordNotFound
	}
	return &models.Session{UUID: "s1"}, nil
}

func (fakeStore) Applies(context.Context, string) ([]models.ApplyRecord, error) {
	return []models.ApplyRecord{{SessionUUID: "s1", Step: engine.StepTCP, Result: "applied"}}, nil
}

var testAuth = Auth{User: "admin", Pass: "secret", JWTSecret: "test-signing-key", TokenTTL: time.Hour}

func newTestServer(t *testing.T, opt *fakeOptimizer, opts ...Option) http.Handler {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t)), WithVersion("test")}, opts...)
	return New(opt, testAuth, opts...).Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/login", "", map[string]string{"username": "admin", "password": "secret"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func TestPublicRoutes(t *testing.T) {
	h := newTestServer(t, &fakeOptimizer{}, WithStore(fakeStore{}))

	tests := []struct {
		path string
		want string
	}{
		{"/api/health", `"status":"ok"`},
		{"/api/status", `"optimization_value":25`},
		{"/api/metrics/current", `"signal_text":"N/A"`},
		{"/api/interfaces", `"name":"eth0"`},
		{"/api/history", `"download_mbps":5`},
		{"/api/sessions", `"uuid":"s1"`},
		{"/api/sessions/s1", `"step":"tcp"`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tt.path, "", nil)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestHistoryFromStore(t *testing.T) {
	h := newTestServer(t, &fakeOptimizer{}, WithStore(fakeStore{}))
	w := do(t, h, http.MethodGet, "/api/history?source=db&limit=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Data []models.SnapshotRecord `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data, 3)

	w = do(t, h, http.MethodGet, "/api/sessions/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoreRoutesWithoutStore(t *testing.T) {
	h := newTestServer(t, &fakeOptimizer{})
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/sessions", "", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/history?source=db", "", nil).Code)
}

func TestLogin(t *testing.T) {
	h := newTestServer(t, &fakeOptimizer{})

	w := do(t, h, http.MethodPost, "/api/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, h, http.MethodPost, "/api/login", "", map[string]string{"username": "admin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	token := login(t, h)
	claims, err := testAuth.parseJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Username)
}

func TestControlRoutesRequireJWT(t *testing.T) {
	h := newTestServer(t, &fakeOptimizer{})
	for _, path := range []string{"/api/optimize/start", "/api/optimize/stop", "/api/optimize/level"} {
		w := do(t, h, http.MethodPost, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	other := Auth{JWTSecret: "another-key"}
	forged, err := other.GenerateJWT("admin")
	require.NoError(t, err)
	w := do(t, h, http.MethodPost, "/api/optimize/stop", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStartStopLevel(t *testing.T) {
	opt := &fakeOptimizer{}
	h := newTestServer(t, opt)
	token := login(t, h)

	w := do(t, h, http.MethodPost, "/api/optimize/start", token, map[string]any{
		"target_speed": 20,
		"features":     map[string]bool{"bandwidth_control": false},
		"overrides":    map[string]any{"tcp": map[string]any{"window_size": 65535}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NotNil(t, opt.started)
	assert.Equal(t, profile.Standard, opt.started.Level)
	assert.Equal(t, profile.Unknown, opt.started.ConnectionType)
	assert.Equal(t, 20.0, opt.started.TargetSpeed)
	require.NotNil(t, opt.started.Features.BandwidthShaping)
	assert.False(t, *opt.started.Features.BandwidthShaping)
	ws, ok := opt.started.Overrides.Group("tcp").Int("window_size")
	assert.True(t, ok)
	assert.Equal(t, 65535, ws)

	w = do(t, h, http.MethodPost, "/api/optimize/level", token, map[string]string{"level": "extreme"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, profile.Extreme, opt.level)

	w = do(t, h, http.MethodPost, "/api/optimize/level", token, map[string]string{"level": "ludicrous"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/optimize/stop", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"loop_joined":true`)
}

func TestStartValidation(t *testing.T) {
	opt := &fakeOptimizer{}
	h := newTestServer(t, opt)
	token := login(t, h)

	for name, body := range map[string]map[string]any{
		"missing speed": {"level": "light"},
		"bad level":     {"target_speed": 10, "level": "turbo"},
		"bad conn":      {"target_speed": 10, "connection_type": "carrier-pigeon"},
		"bad signal":    {"target_speed": 10, "target_signal": 150},
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/optimize/start", token, body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
	assert.Nil(t, opt.started)
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.ErrAlreadyActive, http.StatusConflict},
		{apperr.ErrNotActive, http.StatusConflict},
		{engine.ErrInvalidOptions, http.StatusBadRequest},
		{apperr.Unsupported("tcp"), http.StatusNotImplemented},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, errorStatus(tt.err), tt.err.Error())
	}

	opt := &fakeOptimizer{startErr: apperr.ErrAlreadyActive, stopErr: apperr.ErrNotActive}
	h := newTestServer(t, opt)
	token := login(t, h)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/optimize/start", token, map[string]any{"target_speed": 5}).Code)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/optimize/stop", token, nil).Code)
}

func TestPrometheusEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "signalboost_test_gauge", Help: "test"})
	reg.MustRegister(g)
	g.Set(3)

	h := newTestServer(t, &fakeOptimizer{}, WithGatherer(reg))
	w := do(t, h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "signalboost_test_gauge 3"))
}

func TestDashboardFallback(t *testing.T) {
	h := newTestServer(t, &fakeOptimizer{})
	w := do(t, h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "SignalBoost")

	w = do(t, h, http.MethodPost, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heavystatus/newsroom-edge/internal/cachestore"
	"github.com/heavystatus/newsroom-edge/internal/clients"
	"github.com/heavystatus/newsroom-edge/internal/conf"
	"github.com/heavystatus/newsroom-edge/internal/observability/metrics"
	"github.com/heavystatus/newsroom-edge/internal/push"
	"github.com/heavystatus/newsroom-edge/internal/testutil/netfake"
	"github.com/heavystatus/newsroom-edge/internal/worker"
)

const (
	testOrigin  = "https://heavystatus.com"
	offlineHTML = "<h1>You are offline</h1>"
)

type harness struct {
	server  *Server
	reg     *worker.Registration
	clients *clients.Registry
	bridge  *push.Bridge
	bus     *push.Bus
	net     *netfake.Network
}

type harnessOption func(*Dependencies)

func withoutPush() harnessOption {
	return func(d *Dependencies) {
		d.Bus = nil
		d.Bridge = nil
	}
}

func withMetrics(m *metrics.Metrics) harnessOption {
	return func(d *Dependencies) { d.Metrics = m }
}

func withUpstreams(origins ...string) harnessOption {
	return func(d *Dependencies) { d.Settings.Network.UpstreamOrigins = origins }
}

func testSettings() *conf.Settings {
	return &conf.Settings{
		Site: conf.SiteSettings{
			URL:             testOrigin,
			Name:            "Heavy Status",
			ShortName:       "Heavy Status",
			Description:     "Breaking news",
			StartURL:        "/today",
			ThemeColor:      "#0b0b0c",
			BackgroundColor: "#ffffff",
			Lang:            "en-US",
		},
		Clients: conf.ClientSettings{PongWait: conf.Duration(10 * time.Second)},
		Push: conf.PushSettings{
			Enabled: true,
			Defaults: conf.NotificationDefaults{
				Title: "Heavy Status",
				Body:  "Open Heavy Status for the latest update.",
				Tag:   "newsroom",
				URL:   "/today",
			},
		},
		PWA: conf.PWASettings{Scope: "/"},
	}
}

func testRelease(version string) conf.Release {
	return conf.Release{Prefix: "newsroom", Version: version, LegacyPrefixes: []string{"workbox-"}}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	origin, err := url.Parse(testOrigin)
	require.NoError(t, err)

	net := netfake.New().
		Handle(testOrigin+"/offline.html", netfake.Route{Body: offlineHTML, Header: http.Header{"Content-Type": {"text/html"}}}).
		Handle(testOrigin+"/icons/icon-192.png", netfake.Route{Body: "icon"})
	storage := cachestore.NewMemoryStorage()
	factory := func(release conf.Release) (*worker.Worker, error) {
		m, err := cachestore.NewManager(release, storage, cachestore.Options{
			Origin:          origin,
			Precache:        []string{"/offline.html", "/icons/icon-192.png"},
			OfflineDocument: "/offline.html",
			Network:         net,
		})
		if err != nil {
			return nil, err
		}
		return worker.New(m, worker.Config{Origin: origin, Rules: worker.DefaultRules(), Network: net}), nil
	}

	reg := clients.NewRegistry(clients.Options{})
	registration := worker.NewRegistration(factory, worker.Options{Clients: reg})
	settings := testSettings()
	bridge := push.NewBridge(push.Options{
		Defaults:   settings.Push.Defaults,
		Origin:     origin,
		Clients:    reg,
		Displayers: []push.Displayer{push.NewClientDisplayer(reg)},
	})
	bridge.Attach(registration)
	bus := push.NewBus(nil, nil)
	bus.Subscribe(func(ctx context.Context, ev *push.Event) {
		_ = registration.Push(ctx, ev.Payload)
	})
	t.Cleanup(bus.Stop)

	deps := Dependencies{
		Settings:     settings,
		Registration: registration,
		Clients:      reg,
		Bridge:       bridge,
		Bus:          bus,
		Network:      net,
	}
	for _, o := range opts {
		o(&deps)
	}
	s, err := New(deps)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })

	return &harness{server: s, reg: registration, clients: reg, bridge: bridge, bus: bus, net: net}
}

func (h *harness) activate(t *testing.T, version string) {
	t.Helper()
	require.NoError(t, h.reg.Register(t.Context(), testRelease(version)))
}

func (h *harness) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.server.ServeHTTP(rec, req)
	return rec
}

func navigate(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Dest", "document")
	return req
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(Dependencies{})
	require.Error(t, err)

	settings := testSettings()
	settings.Site.URL = "not a url"
	_, err = New(Dependencies{
		Settings:     settings,
		Registration: worker.NewRegistration(nil, worker.Options{}),
		Network:      netfake.New(),
	})
	require.Error(t, err)
}

func TestManifest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/manifest.webmanifest", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/manifest+json")

	var m Manifest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "Heavy Status", m.Name)
	assert.Equal(t, "/today", m.StartURL)
	assert.Equal(t, "standalone", m.Display)
	assert.Equal(t, "portrait-primary", m.Orientation)
	assert.Equal(t, []string{"news", "magazine", "entertainment"}, m.Categories)
	require.Len(t, m.Icons, 9)
	assert.Equal(t, "maskable", m.Icons[8].Purpose)
	require.Len(t, m.Shortcuts, 3)
	assert.Equal(t, "/live", m.Shortcuts[2].URL)
}

func TestWorkerStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t, "v1")

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/worker", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	var status WorkerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "v1", status.Registration.Active)
	assert.Empty(t, status.Registration.Waiting)
	assert.True(t, status.PreloadEnabled)
	assert.Equal(t, "/", status.Scope)
	assert.Zero(t, status.PendingLaunches)
}

func TestSkipWaiting(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t, "v1")
	h.activate(t, "v2")
	require.Equal(t, "v2", h.reg.State().Waiting)

	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/worker/skip-waiting", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	var status WorkerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "v2", status.Registration.Active)
	assert.Empty(t, status.Registration.Waiting)

	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/worker/skip-waiting", http.NoBody))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFetch_NavigationOnlineThenOffline(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.Handle(testOrigin+"/today", netfake.Route{Body: "<h1>Today</h1>", Header: http.Header{"Content-Type": {"text/html"}}})
	h.activate(t, "v1")

	rec := h.do(t, navigate("/today"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>Today</h1>", rec.Body.String())
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))

	h.net.SetOffline(true)

	rec = h.do(t, navigate("/today"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<h1>Today</h1>", rec.Body.String(), "stored snapshot should be served offline")

	rec = h.do(t, navigate("/never-visited"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, offlineHTML, rec.Body.String())
}

func TestFetch_PassthroughWithoutActiveRelease(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.Handle(testOrigin+"/today", netfake.Route{Body: "live"})

	rec := h.do(t, navigate("/today"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "live", rec.Body.String())
	assert.Equal(t, 1, h.net.Calls(testOrigin+"/today"))
}

func TestFetch_NonGetPassesThrough(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.net.Handle(testOrigin+"/api/comments", netfake.Route{Status: http.StatusCreated, Body: "created"})
	h.activate(t, "v1")

	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/comments", strings.NewReader("{}")))
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "created", rec.Body.String())
}

func TestFetch_PassthroughFailureIsBadGateway(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t, "v1")
	h.net.SetOffline(true)

	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/comments", strings.NewReader("{}")))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestFetch_ForeignOriginIsRefused(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withUpstreams("https://cdn.heavystatus.com"))
	h.activate(t, "v1")
	h.net.Handle("https://cdn.heavystatus.com/feed.json", netfake.Route{Body: "[]"})
	before := h.net.TotalCalls()

	tests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "http://169.254.169.254/latest/api/token"},
		{http.MethodGet, "http://10.0.0.5:6379/admin"},
		{http.MethodGet, "https://evil.example/logo.png"},
		{http.MethodGet, "http://heavystatus.com/today"},
	}
	for _, tt := range tests {
		rec := h.do(t, httptest.NewRequest(tt.method, tt.target, http.NoBody))
		assert.Equal(t, http.StatusForbidden, rec.Code, "%s %s", tt.method, tt.target)
	}
	assert.Equal(t, before, h.net.TotalCalls(), "refused fetches must not reach the network")

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "https://cdn.heavystatus.com/feed.json", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", rec.Body.String())
	assert.Equal(t, 1, h.net.Calls("https://cdn.heavystatus.com/feed.json"))
}

func TestFetch_StaticAssetOfflineIsTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t, "v1")
	h.net.SetOffline(true)

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/_next/static/app.js", http.NoBody))
	assert.Equal(t, http.StatusRequestTimeout, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPush_IngestAndClick(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t, "v1")

	body := `{"title":"Breaking","body":"<p>Markets <b>rally</b></p>","tag":"markets","url":"/live/markets"}`
	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/push", strings.NewReader(body)))
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		_, ok := h.bridge.Lookup("markets")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	var shown []push.Descriptor
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &shown))
	require.Len(t, shown, 1)
	assert.Equal(t, "Breaking", shown[0].Title)

	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/markets/click", http.NoBody))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, h.clients.PendingLaunches(), "no window open, so a launch is queued")

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/worker", http.NoBody))
	var status WorkerStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 1, status.PendingLaunches)

	rec = h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/notifications/markets/click", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPush_CloseNotification(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t, "v1")

	_, err := h.bridge.OnPush(t.Context(), []byte(`{"title":"Hi","tag":"a"}`))
	require.NoError(t, err)

	rec := h.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/a", http.NoBody))
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, h.bridge.Active())

	rec = h.do(t, httptest.NewRequest(http.MethodDelete, "/api/v1/notifications/a", http.NoBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPush_DisabledIsUnavailable(t *testing.T) {
	t.Parallel()
	h := newHarness(t, withoutPush())

	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/push", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/notifications", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestPush_PayloadTooLarge(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	big := strings.Repeat("x", maxPushBodySize+1)
	rec := h.do(t, httptest.NewRequest(http.MethodPost, "/api/v1/push", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestHealthAndReadiness(t *testing.T) {
	t.Parallel()
	m, err := metrics.NewMetrics()
	require.NoError(t, err)
	h := newHarness(t, withMetrics(m))

	rec := h.do(t, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.activate(t, "v1")
	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/readyz", http.NoBody))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(t, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "newsroom_edge_")
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.server.settings.WebServer.AllowedOrigins = []string{"https://preview.heavystatus.com"}

	cases := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "edge.local", true},
		{testOrigin, "edge.local", true},
		{"https://preview.heavystatus.com", "edge.local", true},
		{"http://edge.local", "edge.local", true},
		{"https://evil.example", "edge.local", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/clients/ws", http.NoBody)
		req.Host = tc.host
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		assert.Equal(t, tc.want, h.server.checkOrigin(req), "origin %q", tc.origin)
	}
}

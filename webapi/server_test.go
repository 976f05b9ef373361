package webapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mjanicki/energy-core/charging"
	"github.com/mjanicki/energy-core/coordinator"
	"github.com/mjanicki/energy-core/forecast"
	"github.com/mjanicki/energy-core/inverter"
	"github.com/mjanicki/energy-core/model"
	"github.com/mjanicki/energy-core/selling"
	"github.com/mjanicki/energy-core/sun"
	"github.com/mjanicki/energy-core/tariff"
	"github.com/mjanicki/energy-core/threshold"
)

var warsaw = sun.Location{Latitude: 52.2297, Longitude: 21.0122}

func newTestServer(t *testing.T) (*Server, *coordinator.ForceActionStore) {
	t.Helper()

	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	clock := model.NewFixedClock(now)

	partialLedger, _ := charging.NewPartialLedger("")
	normalLedger, _ := charging.NewPartialLedger("")
	chargingEngine := charging.New(charging.DefaultConfig(), clock, warsaw, partialLedger, normalLedger)

	dropLedger, _ := selling.NewDropLedger("")
	cycleLedger, _ := selling.NewCycleLedger("")
	sellingEngine := selling.New(selling.DefaultConfig(), clock, dropLedger, cycleLedger)

	thresholdEngine := threshold.New(threshold.DefaultConfig(), clock, nil)
	tariffCalc := tariff.New(tariff.DefaultConfig())

	driver := inverter.NewMockDriver(model.SystemSnapshot{SOCPercent: 50, Timestamp: now})
	poller := inverter.NewPoller(driver, time.Minute, time.Second, nil)
	primeCtx, cancel := context.WithCancel(context.Background())
	cancel()
	poller.Run(primeCtx)

	forceAction := coordinator.NewForceActionStore("", 10*time.Minute)

	coord := coordinator.New(coordinator.DefaultConfig(), clock, nil, chargingEngine, sellingEngine, thresholdEngine, tariffCalc,
		driver, poller, nil, nil, nil, forecast.Location{Latitude: warsaw.Latitude, Longitude: warsaw.Longitude}, nil, forceAction, dropLedger.Record)

	srv := New(coord, nil, nil, forceAction, clock, func() error { return nil }, 8090)
	return srv, forceAction
}

func TestHealthHandlerReportsHealthyWhileRunning(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.coord.Run(ctx)
	deadline := time.Now().Add(time.Second)
	for !srv.coord.GetStatus().Running && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()

	srv.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestControlHandlerRejectsNonLoopback(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/control", nil)
	req.RemoteAddr = "203.0.113.5:54321"
	w := httptest.NewRecorder()

	srv.localhostOnly(srv.controlHandler)(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-loopback caller, got %d", w.Code)
	}
}

func TestControlHandlerAcceptsValidCommandFromLoopback(t *testing.T) {
	srv, forceAction := newTestServer(t)

	body := strings.NewReader(`{"command":"charge"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/control", body)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()

	srv.localhostOnly(srv.controlHandler)(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, ok := forceAction.Peek(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)); !ok {
		t.Fatalf("expected the force-action to be queued")
	}
}

func TestControlHandlerRejectsUnknownCommand(t *testing.T) {
	srv, _ := newTestServer(t)

	body := strings.NewReader(`{"command":"levitate"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/control", body)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()

	srv.localhostOnly(srv.controlHandler)(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unknown command, got %d", w.Code)
	}
}

func TestCurrentStateHandlerReportsLatestSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/current-state", nil)
	w := httptest.NewRecorder()

	srv.currentStateHandler(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"soc_percent"`) {
		t.Fatalf("expected current-state to include soc_percent, got: %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"thresholds"`) {
		t.Fatalf("expected current-state to include derived thresholds, got: %s", w.Body.String())
	}
}

func TestCurrentStateHandlerRejectsNonGet(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/current-state", nil)
	w := httptest.NewRecorder()

	srv.currentStateHandler(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestPricesHandlerWithoutCacheIsUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/prices", nil)
	w := httptest.NewRecorder()

	srv.pricesHandler(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a configured price cache, got %d", w.Code)
	}
}

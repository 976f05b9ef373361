// Package webapi implements the coordinator's HTTP surface: status and
// health endpoints, the latest system snapshot/pricing/derived-score
// current-state endpoint, recent decisions/prices, and two localhost-only
// control endpoints (force-action, config reload), plus a websocket feed
// of periodic status pushes.
package webapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mjanicki/energy-core/coordinator"
	"github.com/mjanicki/energy-core/model"
	"github.com/mjanicki/energy-core/priceapi"
	"github.com/mjanicki/energy-core/storage"
)

// Server exposes the coordinator's state and accepts operator commands.
type Server struct {
	coord       *coordinator.Coordinator
	priceCache  *priceapi.Cache
	store       *storage.Store
	forceAction *coordinator.ForceActionStore
	clock       model.Clock
	reload      func() error

	port      int
	startTime time.Time
	server    *http.Server
	upgrader  websocket.Upgrader
	clients   sync.Map
	broadcast chan []byte
	done      chan struct{}
}

// New builds a webapi.Server. port<=0 disables the server, mirroring the
// health_check_port=0 convention.
func New(
	coord *coordinator.Coordinator,
	priceCache *priceapi.Cache,
	store *storage.Store,
	forceAction *coordinator.ForceActionStore,
	clock model.Clock,
	reload func() error,
	port int,
) *Server {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	s := &Server{
		coord:       coord,
		priceCache:  priceCache,
		store:       store,
		forceAction: forceAction,
		clock:       clock,
		reload:      reload,
		port:        port,
		startTime:   time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
		server: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}

	mux.HandleFunc("/api/health", s.healthHandler)
	mux.HandleFunc("/api/ready", s.readinessHandler)
	mux.HandleFunc("/api/status", s.statusHandler)
	mux.HandleFunc("/api/current-state", s.currentStateHandler)
	mux.HandleFunc("/api/decisions", s.decisionsHandler)
	mux.HandleFunc("/api/prices", s.pricesHandler)
	mux.HandleFunc("/api/control", s.localhostOnly(s.controlHandler))
	mux.HandleFunc("/api/config", s.localhostOnly(s.configHandler))
	mux.HandleFunc("/api/ws", s.wsHandler)

	return s
}

// Start launches the server and its broadcast goroutines.
func (s *Server) Start() error {
	if s == nil {
		return nil
	}
	go s.handleBroadcasts()
	go s.broadcastStatus()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("web api server error: %v\n", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the server down, closing any open websockets.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	close(s.done)
	s.clients.Range(func(key, value any) bool {
		if conn, ok := key.(*websocket.Conn); ok {
			conn.Close()
		}
		return true
	})
	return s.server.Shutdown(ctx)
}

// localhostOnly rejects requests whose remote address is not loopback,
// for the two operator-mutation endpoints.
func (s *Server) localhostOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden: localhost only", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := s.coord.GetStatus()
	resp := map[string]any{
		"status":    healthString(status),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    formatUptime(time.Since(s.startTime)),
	}
	if !status.Running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, resp)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := s.coord.GetStatus()
	ready := status.Running && status.ConsecutiveFailures == 0
	resp := map[string]any{"ready": ready, "timestamp": time.Now().UTC().Format(time.RFC3339)}
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, resp)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, s.buildStatusData())
}

// currentStateHandler returns the latest inverter snapshot, the current
// price, and the derived thresholds/scores — distinct from /status, which
// reports coordinator liveness rather than the physical system state.
func (s *Server) currentStateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	snapshot, th := s.coord.LatestState()
	resp := map[string]any{
		"soc_percent":    snapshot.SOCPercent,
		"battery_temp_c": snapshot.BatteryTempC,
		"pv_power_w":     snapshot.PVPowerW,
		"load_power_w":   snapshot.LoadPowerW,
		"grid_power_w":   snapshot.GridPowerW,
		"timestamp":      snapshot.Timestamp.UTC().Format(time.RFC3339),
		"thresholds": map[string]any{
			"high_price_pln_kwh":      th.HighPricePLNKWh,
			"critical_charge_pln_kwh": th.CriticalChargePLNKWh,
			"computed_at":             th.ComputedAt.UTC().Format(time.RFC3339),
		},
	}
	if s.priceCache != nil {
		curve, fetchedAt := s.priceCache.Get()
		if pt, ok := curve.At(s.clock.Now()); ok {
			resp["current_price_pln_kwh"] = pt.EffectivePricePLNKWh
		}
		resp["prices_fetched_at"] = fetchedAt
	}
	writeJSON(w, resp)
}

// decisionsHandler returns decisions in [from, to], defaulting to the
// last 24h when the query params are absent.
func (s *Server) decisionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.store == nil {
		http.Error(w, "persistence not configured", http.StatusServiceUnavailable)
		return
	}
	now := s.clock.Now()
	from, to := now.Add(-24*time.Hour), now

	if v := r.URL.Query().Get("from"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			from = parsed
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			to = parsed
		}
	}

	decisions, err := s.store.GetDecisions(r.Context(), from, to)
	if err != nil {
		http.Error(w, fmt.Sprintf("query decisions: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"decisions": decisions, "from": from, "to": to})
}

func (s *Server) pricesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.priceCache == nil {
		http.Error(w, "price source not configured", http.StatusServiceUnavailable)
		return
	}
	curve, fetchedAt := s.priceCache.Get()
	writeJSON(w, map[string]any{"points": curve.Points, "fetched_at": fetchedAt})
}

// controlHandler accepts a one-shot force-action command.
func (s *Server) controlHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Command string `json:"command"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	cmd := coordinator.ForceActionCommand(body.Command)
	switch cmd {
	case coordinator.ForceActionCharge, coordinator.ForceActionDischarge, coordinator.ForceActionAuto:
	default:
		http.Error(w, fmt.Sprintf("unknown command %q", body.Command), http.StatusBadRequest)
		return
	}
	if err := s.forceAction.Put(s.clock.Now(), cmd); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, map[string]any{"accepted": cmd})
}

// configHandler triggers a hot-reload of the application config.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.reload == nil {
		http.Error(w, "reload not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.reload(); err != nil {
		http.Error(w, fmt.Sprintf("reload config: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{"reloaded": true})
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("websocket upgrade error: %v\n", err)
		return
	}
	s.clients.Store(conn, true)

	s.sendStatusToClient(conn)

	defer func() {
		s.clients.Delete(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) handleBroadcasts() {
	for {
		select {
		case message := <-s.broadcast:
			s.clients.Range(func(key, value any) bool {
				conn, ok := key.(*websocket.Conn)
				if !ok {
					return true
				}
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					conn.Close()
					s.clients.Delete(conn)
				}
				return true
			})
		case <-s.done:
			return
		}
	}
}

func (s *Server) broadcastStatus() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hasClients := false
			s.clients.Range(func(key, value any) bool {
				hasClients = true
				return false
			})
			if !hasClients {
				continue
			}
			message, err := json.Marshal(s.buildStatusData())
			if err != nil {
				continue
			}
			s.broadcast <- message
		case <-s.done:
			return
		}
	}
}

func (s *Server) sendStatusToClient(conn *websocket.Conn) {
	if err := conn.WriteJSON(s.buildStatusData()); err != nil {
		fmt.Printf("failed to send initial status: %v\n", err)
	}
}

func (s *Server) buildStatusData() map[string]any {
	status := s.coord.GetStatus()
	data := map[string]any{
		"type":      "status_update",
		"status":    healthString(status),
		"uptime":    formatUptime(time.Since(s.startTime)),
		"tick":      status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.priceCache != nil {
		curve, fetchedAt := s.priceCache.Get()
		if pt, ok := curve.At(s.clock.Now()); ok {
			data["current_price_pln_kwh"] = pt.EffectivePricePLNKWh
		}
		data["prices_fetched_at"] = fetchedAt
	}
	return data
}

func healthString(status coordinator.Status) string {
	if !status.Running {
		return "unhealthy"
	}
	if status.ConsecutiveFailures > 0 {
		return "degraded"
	}
	return "healthy"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	sec := d / time.Second
	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}

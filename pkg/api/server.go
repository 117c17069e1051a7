// Package api exposes the daemon's REST and WebSocket surface: session
// control, controller discovery, live tuning, metrics, and status push
// to connected frontends.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"plasticpilot/pkg/config"
	"plasticpilot/pkg/control"
	perrors "plasticpilot/pkg/errors"
	"plasticpilot/pkg/gamepad"
	"plasticpilot/pkg/log"
	"plasticpilot/pkg/metrics"
	"plasticpilot/pkg/notify"
)

// SessionController is the session surface the API drives. Implemented
// by control.Session.
type SessionController interface {
	Activate(id int) error
	Deactivate() error
	Status() control.Status
	Controllers() []gamepad.DeviceInfo
	Refresh() ([]gamepad.DeviceInfo, error)
	ApplyTuning(t *config.TuningConfig) error
	Tuning() *config.TuningConfig
}

// Config holds the server wiring.
type Config struct {
	// Addr is the HTTP listen address, e.g. "127.0.0.1:7125".
	Addr string

	Session SessionController

	// Store persists settings changes back to the config file. Nil
	// disables persistence; changes then live until restart.
	Store *config.Store

	// Notifier receives settings-change pushes so every backend sees
	// them, not just WebSocket clients. Nil means discard.
	Notifier notify.Notifier

	Logger  *log.Logger
	Metrics *metrics.PilotMetrics
	Version string
}

// Server serves the REST endpoints and fans session status out to
// WebSocket clients. It implements notify.Notifier: register it on the
// notification mux and every session transition reaches the browser.
type Server struct {
	session  SessionController
	store    *config.Store
	notifier notify.Notifier
	log      *log.Logger
	pm       *metrics.PilotMetrics
	version  string

	httpServer *http.Server
	addr       string

	wsUpgrader websocket.Upgrader
	wsClients  map[int64]*wsClient
	wsClientMu sync.RWMutex
	nextWSID   int64

	startTime time.Time
}

// New creates the server. Start must be called to begin serving.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.GetLogger("api")
	}
	pm := cfg.Metrics
	if pm == nil {
		pm = metrics.Global()
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}
	s := &Server{
		session:   cfg.Session,
		store:     cfg.Store,
		notifier:  notifier,
		log:       logger,
		pm:        pm,
		version:   cfg.Version,
		addr:      cfg.Addr,
		wsClients: make(map[int64]*wsClient),
		startTime: time.Now(),
	}
	s.wsUpgrader = websocket.Upgrader{
		// The UI may be served from OctoPrint, a dev server, or a
		// phone on the LAN; origin checks add nothing here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return s
}

// Start serves until Stop is called. It blocks; run it in a goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.log.Info("API server listening on %s", s.addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop closes all WebSocket clients and shuts the listener down.
func (s *Server) Stop() error {
	s.wsClientMu.Lock()
	for _, c := range s.wsClients {
		c.close()
	}
	s.wsClients = make(map[int64]*wsClient)
	s.wsClientMu.Unlock()
	s.pm.WebsocketClients.Set(nil, 0)

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Handler returns the routed handler. Split from Start so tests can
// drive it without a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/controllers", s.handleControllers)
	mux.HandleFunc("/api/controllers/refresh", s.handleRefresh)
	mux.HandleFunc("/api/activate", s.handleActivate)
	mux.HandleFunc("/api/deactivate", s.handleDeactivate)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/settings/reset", s.handleSettingsReset)
	mux.HandleFunc("/api/server", s.handleServerInfo)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/websocket", s.handleWebSocket)
	return s.corsMiddleware(mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, s.session.Status())
}

func (s *Server) handleControllers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, map[string]any{"controllers": s.session.Controllers()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	list, err := s.session.Refresh()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]any{"controllers": list})
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		ID *int `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ID == nil {
		s.writeError(w, perrors.New(perrors.ErrConfigOption,
			"activate requires a numeric 'id'"))
		return
	}
	if err := s.session.Activate(*body.ID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, s.session.Status())
}

func (s *Server) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.session.Deactivate(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, s.session.Status())
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, map[string]any{"settings": s.session.Tuning().Options()})
	case http.MethodPost:
		var updates map[string]string
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			s.writeError(w, perrors.Wrap(err, perrors.ErrConfigType,
				"settings body must map option names to values"))
			return
		}
		next, err := s.session.Tuning().WithUpdates(updates)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.applySettings(w, next)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSettingsReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.applySettings(w, config.DefaultTuning())
}

// applySettings pushes a validated snapshot into the session, persists
// it, and notifies every backend. Persistence failure is logged, not
// fatal: the live session already runs the new values.
func (s *Server) applySettings(w http.ResponseWriter, next *config.TuningConfig) {
	if err := s.session.ApplyTuning(next); err != nil {
		s.writeError(w, err)
		return
	}
	if s.store != nil {
		s.store.ApplyTuning(next)
		if err := s.store.Save(); err != nil {
			s.log.WithError(err).Warn("settings saved in memory only")
		}
	}
	s.notifier.PushSettings(notify.Settings(next.Options()))
	s.writeJSON(w, map[string]any{"settings": next.Options()})
}

func (s *Server) handleServerInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hostname, _ := os.Hostname()
	s.wsClientMu.RLock()
	clients := len(s.wsClients)
	s.wsClientMu.RUnlock()
	s.writeJSON(w, map[string]any{
		"name":            "plasticpilot",
		"version":         s.version,
		"hostname":        hostname,
		"uptime":          time.Since(s.startTime).Seconds(),
		"websocket_count": clients,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.pm.Gather()))
}

// CORS headers so the OctoPrint-hosted UI (a different origin) can
// talk to the daemon directly.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatusFor(err))
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    string(perrors.CodeOf(err)),
			"message": err.Error(),
		},
	})
}

// httpStatusFor maps pilot error codes onto HTTP statuses.
func httpStatusFor(err error) int {
	switch {
	case perrors.Is(err, perrors.ErrSessionState):
		return http.StatusConflict
	case perrors.Is(err, perrors.ErrDeviceUnavailable),
		perrors.Is(err, perrors.ErrDeviceDisconnected):
		return http.StatusNotFound
	case perrors.Is(err, perrors.ErrConfigSection),
		perrors.Is(err, perrors.ErrConfigOption),
		perrors.Is(err, perrors.ErrConfigType),
		perrors.Is(err, perrors.ErrConfigOutOfRange):
		return http.StatusBadRequest
	case perrors.Is(err, perrors.ErrSinkRejected),
		perrors.Is(err, perrors.ErrSerialOpen),
		perrors.Is(err, perrors.ErrSerialIO):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

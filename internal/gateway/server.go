// Package gateway is the daemon's message router. It accepts two kinds of
// WebSocket connections, a token-authenticated trusted UI channel and
// untrusted per-tab page channels, and dispatches their frames to the wallet
// services. The trust split is decided once at upgrade time; no frame can
// cross it afterwards.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/walletgate/walletgate/internal/authz"
	"github.com/walletgate/walletgate/internal/config"
	"github.com/walletgate/walletgate/internal/keyring"
	"github.com/walletgate/walletgate/internal/metrics"
	"github.com/walletgate/walletgate/internal/phishing"
	"github.com/walletgate/walletgate/internal/session"
	"github.com/walletgate/walletgate/pkg/protocol"
	"github.com/walletgate/walletgate/pkg/types"
)

// MetadataStore is the chain-metadata persistence surface the gateway needs.
// Satisfied by storage.MetadataRepository.
type MetadataStore interface {
	Save(ctx context.Context, def *types.MetadataDef) error
	Get(ctx context.Context, genesisHash string) (*types.MetadataDef, error)
	List(ctx context.Context) ([]*types.MetadataDef, error)
}

// SettingsStore is the settings persistence surface the gateway needs.
// Satisfied by storage.SettingsRepository.
type SettingsStore interface {
	GetDefaultAuthAccounts(ctx context.Context) ([]string, error)
	SetDefaultAuthAccounts(ctx context.Context, accounts []string) error
	GetActiveTabsURLs(ctx context.Context) ([]string, error)
	SetActiveTabsURLs(ctx context.Context, urls []string) error
}

// Server owns the HTTP surface and every live client connection.
type Server struct {
	cfg      *config.Config
	session  *session.Session
	keyring  *keyring.Keyring
	authz    *authz.Service
	phishing *phishing.Checker
	metaRepo MetadataStore
	settings SettingsStore
	metrics  *metrics.Metrics
	limiter  *RateLimiter
	upgrader websocket.Upgrader

	mu         sync.Mutex
	uiClients  map[string]*Client
	tabClients map[string]*Client

	httpServer *http.Server
}

// New wires the server together and binds the metrics gauges to the session
// feeds so they track registry state without polling.
func New(
	cfg *config.Config,
	sess *session.Session,
	kr *keyring.Keyring,
	az *authz.Service,
	ph *phishing.Checker,
	metaRepo MetadataStore,
	settings SettingsStore,
	m *metrics.Metrics,
) *Server {
	s := &Server{
		cfg:      cfg,
		session:  sess,
		keyring:  kr,
		authz:    az,
		phishing: ph,
		metaRepo: metaRepo,
		settings: settings,
		metrics:  m,
		limiter:  NewRateLimiter(cfg.TabRateRPM, cfg.TabRateBurst),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origins are classified after the upgrade, not rejected by it.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		uiClients:  make(map[string]*Client),
		tabClients: make(map[string]*Client),
	}

	sess.Auth.Subscribe(func(list []session.Pending[types.AuthorizePayload]) {
		m.PendingRequests.WithLabelValues("authorize").Set(float64(len(list)))
	})
	sess.Sign.Subscribe(func(list []session.Pending[types.SignerPayload]) {
		m.PendingRequests.WithLabelValues("signing").Set(float64(len(list)))
	})
	sess.Meta.Subscribe(func(list []session.Pending[types.MetadataDef]) {
		m.PendingRequests.WithLabelValues("metadata").Set(float64(len(list)))
	})
	kr.SubscribeAccounts(func(accounts []types.AccountInfo) {
		m.AccountsTotal.Set(float64(len(accounts)))
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/ui", s.handleUI)
	mux.HandleFunc("/ws/tab", s.handleTab)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", m.Handler())

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routing mux, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Shutdown closes the listener and every live connection.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, c := range s.uiClients {
		c.Close()
	}
	for _, c := range s.tabClients {
		c.Close()
	}
	s.mu.Unlock()

	return s.httpServer.Shutdown(ctx)
}

// handleUI upgrades the trusted extension UI channel. The shared bearer token
// must match; pages never hold it.
func (s *Server) handleUI(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.UIToken)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ui upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s, true, "", "")
	s.addClient(client)
	slog.Info("ui connected", "client", client.id)

	// The request context dies when this handler returns; the connection
	// outlives it.
	go client.run(context.Background())
}

// handleTab upgrades an untrusted page channel. The origin comes from the
// Origin header the page cannot forge; the frame payloads are never trusted
// for identity.
func (s *Server) handleTab(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		http.Error(w, "missing origin", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("tab upgrade failed", "error", err)
		return
	}

	client := newClient(conn, s, false, originHost(origin), origin)
	s.addClient(client)
	s.session.AddTab(client.id, origin)
	s.metrics.ConnectedTabs.Set(float64(s.session.TabCount()))
	slog.Info("tab connected", "tab", client.id, "origin", client.origin)

	go client.run(context.Background())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.trusted {
		s.uiClients[c.id] = c
	} else {
		s.tabClients[c.id] = c
	}
}

// removeClient tears down a disconnected client: its subscriptions, its
// session tab entry, and every pending request the tab still owned.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	if c.trusted {
		delete(s.uiClients, c.id)
	} else {
		delete(s.tabClients, c.id)
	}
	s.mu.Unlock()

	c.cancelSubscriptions()

	if !c.trusted {
		s.session.RemoveTab(c.id)
		s.metrics.ConnectedTabs.Set(float64(s.session.TabCount()))
		slog.Info("tab disconnected", "tab", c.id, "origin", c.origin)
	} else {
		slog.Info("ui disconnected", "client", c.id)
	}
}

// broadcastToUI pushes an event frame to every trusted client.
func (s *Server) broadcastToUI(event string, payload any) {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.uiClients))
	for _, c := range s.uiClients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.SendEvent(protocol.EventFrame{Event: event, Payload: payload})
	}
}

// originHost strips the scheme from an Origin header value.
func originHost(origin string) string {
	if idx := strings.Index(origin, "://"); idx >= 0 {
		return origin[idx+3:]
	}
	return origin
}

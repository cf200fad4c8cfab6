package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bitfinder/internal/domain"
	"bitfinder/internal/domain/ports"
	"bitfinder/internal/services/session"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// SessionService is the local session manager as seen by the HTTP layer.
type SessionService interface {
	Add(ctx context.Context, magnetURI string, opts session.AddOptions) (domain.TorrentSession, error)
	List() []domain.TorrentSession
	Get(infoHash string) (domain.TorrentSession, error)
	Pause(ctx context.Context, infoHash string) error
	Resume(ctx context.Context, infoHash string) error
	Remove(ctx context.Context, infoHash string, deleteData bool) (bool, error)
	FindByMetadata(candidate domain.SessionMetadata) (domain.TorrentSession, bool)
	OpenFile(ctx context.Context, infoHash string, index *int) (ports.StreamReader, domain.FileInfo, error)
	Subscribe() (<-chan domain.SessionEvent, func())
}

type SearchService interface {
	Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error)
	Magnet(ctx context.Context, raw domain.RawPayload) (string, error)
	Providers() []string
}

type RemoteDaemon interface {
	Add(ctx context.Context, magnet string) (domain.RemoteTorrent, error)
	List(ctx context.Context) ([]domain.RemoteTorrent, error)
	Pause(ctx context.Context, id int64) error
	Resume(ctx context.Context, id int64) error
	Remove(ctx context.Context, id int64, deleteData bool) error
}

const (
	defaultRateLimitRPS   = 100
	defaultRateLimitBurst = 200
	streamReadahead       = 8 << 20
)

type Server struct {
	sessions       SessionService
	search         SearchService
	remote         RemoteDaemon
	allowedOrigins []string
	rateRPS        float64
	rateBurst      int
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
	stopEvents     func()
	eventsDone     chan struct{}
}

type ServerOption func(*Server)

func WithSearch(search SearchService) ServerOption {
	return func(s *Server) {
		s.search = search
	}
}

func WithRemoteDaemon(remote RemoteDaemon) ServerOption {
	return func(s *Server) {
		s.remote = remote
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 {
			s.rateRPS = rps
		}
		if burst > 0 {
			s.rateBurst = burst
		}
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(sessions SessionService, opts ...ServerOption) *Server {
	s := &Server{
		sessions:  sessions,
		rateRPS:   defaultRateLimitRPS,
		rateBurst: defaultRateLimitBurst,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()
	if s.sessions != nil {
		events, cancel := s.sessions.Subscribe()
		s.stopEvents = cancel
		s.eventsDone = make(chan struct{})
		go s.forwardEvents(events)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/download", s.handleDownload)
	mux.HandleFunc("/torrents", s.handleTorrents)
	mux.HandleFunc("/torrents/", s.handleTorrentByHash)
	mux.HandleFunc("/stream/", s.handleStream)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/magnet", s.handleMagnet)
	mux.HandleFunc("/remote/torrents", s.handleRemoteTorrents)
	mux.HandleFunc("/remote/torrents/", s.handleRemoteTorrentByID)
	mux.HandleFunc("/remote/download", s.handleRemoteDownload)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(observeMiddleware(s.logger, mux), "bitfinder",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger,
		rateLimitMiddleware(newClientLimiter(s.rateRPS, s.rateBurst),
			corsMiddleware(s.allowedOrigins, traced)))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// forwardEvents relays session lifecycle events to WebSocket clients until
// the subscription ends.
func (s *Server) forwardEvents(events <-chan domain.SessionEvent) {
	defer close(s.eventsDone)
	for ev := range events {
		s.wsHub.Broadcast(string(ev.Type), ev)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()

	if s.sessions != nil {
		s.wsHub.sendTo(client, "torrents", s.sessions.List())
	}
}

type healthResponse struct {
	Status    string   `json:"status"`
	Sessions  int      `json:"sessions"`
	Providers []string `json:"providers,omitempty"`
	Remote    bool     `json:"remote"`
	Time      string   `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	resp := healthResponse{
		Status: "ok",
		Remote: s.remote != nil,
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if s.sessions != nil {
		resp.Sessions = len(s.sessions.List())
	}
	if s.search != nil {
		resp.Providers = s.search.Providers()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Close stops event forwarding and disconnects all WebSocket clients.
func (s *Server) Close() {
	if s.stopEvents != nil {
		s.stopEvents()
		<-s.eventsDone
	}
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}

func trimSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

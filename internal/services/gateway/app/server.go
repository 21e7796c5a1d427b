// Package server hosts the gateway HTTP/WebSocket process.
//
// The gateway is transport-only: it authenticates connections, validates
// inbound frames, enforces rate limits, and delegates every room action to
// the orchestrator. Durable discussion data stays with the discussions
// backend; shared runtime state stays in the session store.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/roundtablehq/roundtable/internal/platform/id"
	"github.com/roundtablehq/roundtable/internal/platform/timeouts"
	"github.com/roundtablehq/roundtable/internal/services/gateway/auth"
	"github.com/roundtablehq/roundtable/internal/services/gateway/discussions"
	"github.com/roundtablehq/roundtable/internal/services/gateway/orchestrator"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
)

const (
	tokenQueryParam = "token"
	tokenCookieName = "rt_token"

	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	maxDecodeErrorsPerConn = 3

	maxMessageContentRunes = 10000
	maxReactionEmojiRunes  = 10
)

// Default per-connection action limits, overridable through Config.
const (
	DefaultMessagesPerMinute  = 30
	DefaultTypingPerMinute    = 60
	DefaultReactionsPerMinute = 20
	DefaultTurnsPerMinute     = 10

	DefaultMaxConnectionsPerUser = 5
)

// RateLimits carries the per-minute caps for each rate-limited action.
type RateLimits struct {
	Messages  int
	Typing    int
	Reactions int
	Turns     int
}

// DefaultRateLimits returns the standard action caps.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		Messages:  DefaultMessagesPerMinute,
		Typing:    DefaultTypingPerMinute,
		Reactions: DefaultReactionsPerMinute,
		Turns:     DefaultTurnsPerMinute,
	}
}

// Config defines the inputs for the gateway transport boundary.
type Config struct {
	HTTPAddr string

	// Store is the shared session and rate-limit store. Required.
	Store storage.Store

	// Auth verifies connection tokens at the handshake.
	Auth auth.Config

	// DiscussionsBaseURL and ResourceSecret configure the discussions
	// backend client. A pre-built Backend takes precedence when set.
	DiscussionsBaseURL string
	ResourceSecret     string
	Backend            orchestrator.Backend

	Notifier orchestrator.ContributionNotifier

	RateLimits            RateLimits
	MaxConnectionsPerUser int

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the gateway HTTP/WebSocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           storage.Store
	orchestrator    *orchestrator.Orchestrator
	cleanupStop     context.CancelFunc
	cleanupDone     chan struct{}
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type wsPeer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func newWSPeer(encoder *json.Encoder) *wsPeer {
	return &wsPeer{encoder: encoder}
}

func (p *wsPeer) writeFrame(frame wsFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

// wsConn is the per-connection handler state. The authoritative session
// record lives in the store; the fields here are the immutable slice
// fixed at the handshake.
type wsConn struct {
	connectionID  string
	userID        string
	securityLevel int
	peer          *wsPeer
}

// gateway carries the dependencies shared by every connection handler.
type gateway struct {
	store          storage.Store
	orchestrator   *orchestrator.Orchestrator
	hub            *roomHub
	limits         RateLimits
	maxConnections int
}

type wsIdentityContextKey struct{}

// NewServer builds a configured gateway server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.Store == nil {
		return nil, errors.New("session store is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.RateLimits == (RateLimits{}) {
		config.RateLimits = DefaultRateLimits()
	}
	if config.MaxConnectionsPerUser <= 0 {
		config.MaxConnectionsPerUser = DefaultMaxConnectionsPerUser
	}

	backend := config.Backend
	if backend == nil {
		client, err := discussions.NewClient(config.DiscussionsBaseURL, config.ResourceSecret)
		if err != nil {
			return nil, fmt.Errorf("init discussions client: %w", err)
		}
		backend = client
	}

	hub := newRoomHub()
	var opts []orchestrator.Option
	if config.Notifier != nil {
		opts = append(opts, orchestrator.WithNotifier(config.Notifier))
	}
	orch := orchestrator.New(config.Store, backend, hub, opts...)

	gw := &gateway{
		store:          config.Store,
		orchestrator:   orch,
		hub:            hub,
		limits:         config.RateLimits,
		maxConnections: config.MaxConnectionsPerUser,
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(gw, config.Auth),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	cleanupCtx, cleanupStop := context.WithCancel(context.Background())
	server := &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		store:           config.Store,
		orchestrator:    orch,
		cleanupStop:     cleanupStop,
		cleanupDone:     make(chan struct{}),
	}
	go server.runCleanupLoop(cleanupCtx)
	return server, nil
}

// Run creates and serves a gateway server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init gateway server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve gateway: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("gateway server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("gateway server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close stops background work and releases the store connection.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.cleanupStop()
	<-s.cleanupDone
	s.orchestrator.Close()
	if err := s.store.Close(); err != nil {
		log.Printf("close session store: %v", err)
	}
}

// runCleanupLoop reconciles expired session records on a fixed interval
// until the server shuts down.
func (s *Server) runCleanupLoop(ctx context.Context) {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(storage.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, timeouts.StoreOp)
			removed, err := s.store.CleanupExpiredSessions(opCtx)
			cancel()
			if err != nil {
				log.Printf("gateway: session cleanup failed: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("gateway: session cleanup removed %d expired entries", removed)
			}
		}
	}
}

func newHandler(gw *gateway, authConfig auth.Config) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		gw.handleWSConn(conn)
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		token := accessTokenFromRequest(r)
		identity, err := auth.VerifyToken(token, authConfig)
		if err != nil {
			log.Printf("gateway: websocket unauthorized host=%q remote=%s code=%s err=%v", r.Host, r.RemoteAddr, auth.ErrorCode(err), err)
			http.Error(w, auth.ErrorCode(err), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
		wsHandler.ServeHTTP(w, r.WithContext(ctx))
	})

	return mux
}

// accessTokenFromRequest resolves the connection token. Browser clients
// send it as a query parameter or cookie; service clients use the
// Authorization header.
func accessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := strings.TrimSpace(r.URL.Query().Get(tokenQueryParam)); token != "" {
		return token
	}
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}

// handleWSConn owns one connection from registration to teardown.
func (g *gateway) handleWSConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	peer := newWSPeer(json.NewEncoder(conn))

	request := conn.Request()
	identity, ok := request.Context().Value(wsIdentityContextKey{}).(auth.Identity)
	if !ok || strings.TrimSpace(identity.UserID) == "" {
		_ = writeWSError(peer, "", auth.CodeAuthenticationFailed, "connection identity missing")
		return
	}

	connectionID, err := id.NewID()
	if err != nil {
		log.Printf("gateway: connection id generation failed: %v", err)
		_ = writeWSError(peer, "", "INTERNAL_ERROR", "connection setup failed")
		return
	}

	wsc := &wsConn{
		connectionID:  connectionID,
		userID:        identity.UserID,
		securityLevel: identity.SecurityLevel,
		peer:          peer,
	}

	if !g.registerConnection(request, wsc) {
		return
	}
	defer g.teardownConnection(wsc)

	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	decoder := json.NewDecoder(conn)
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "VALIDATION_ERROR", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, "VALIDATION_ERROR", "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frame.RequestID, "RATE_LIMIT_EXCEEDED", "frame rate limit exceeded")
			return
		}

		g.dispatchFrame(request.Context(), wsc, frame)
	}
}

// registerConnection enforces the per-user connection cap and creates the
// session record. Only the cap check refuses a connection; a session
// create failure is logged and the connection keeps serving.
func (g *gateway) registerConnection(request *http.Request, wsc *wsConn) bool {
	ctx, cancel := context.WithTimeout(request.Context(), timeouts.StoreOp)
	defer cancel()

	allowed, err := g.store.CheckConnectionLimit(ctx, wsc.userID, g.maxConnections)
	if err != nil {
		log.Printf("gateway: connection limit check failed user=%q err=%v", wsc.userID, err)
		allowed = true
	}
	if !allowed {
		_ = writeWSError(wsc.peer, "", "CONNECTION_LIMIT_EXCEEDED", fmt.Sprintf("at most %d concurrent connections per user", g.maxConnections))
		return false
	}

	now := time.Now().UTC()
	session := storage.Session{
		ConnectionID:  wsc.connectionID,
		UserID:        wsc.userID,
		SecurityLevel: wsc.securityLevel,
		Authenticated: true,
		ConnectedAt:   now,
		LastActivity:  now,
		IPAddress:     remoteIP(request),
		UserAgent:     request.UserAgent(),
	}
	// Session creation must not refuse the connection: a store outage
	// leaves the socket open and later frames answer SESSION_EXPIRED.
	if err := g.store.CreateSession(ctx, session); err != nil {
		log.Printf("gateway: session create failed conn=%q user=%q err=%v", wsc.connectionID, wsc.userID, err)
	}
	return true
}

// teardownConnection announces the disconnect to the room, unsubscribes
// the peer, and removes the session record.
func (g *gateway) teardownConnection(wsc *wsConn) {
	ctx, cancel := context.WithTimeout(context.Background(), timeouts.StoreOp)
	defer cancel()

	session, err := g.store.Session(ctx, wsc.connectionID)
	if err == nil {
		g.orchestrator.Disconnect(session)
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("gateway: session lookup on teardown failed conn=%q err=%v", wsc.connectionID, err)
	}
	// unsubscribe even when the session record already expired
	g.hub.drop(wsc.connectionID)

	if err := g.store.RemoveSession(ctx, wsc.connectionID); err != nil {
		log.Printf("gateway: session remove failed conn=%q err=%v", wsc.connectionID, err)
	}
}

func remoteIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writeWSError(peer *wsPeer, requestID, code, message string) error {
	return writeWSErrorDetails(peer, requestID, code, message, nil)
}

func writeWSErrorDetails(peer *wsPeer, requestID, code, message string, details map[string]any) error {
	return peer.writeFrame(wsFrame{
		Type:      "error",
		RequestID: requestID,
		Payload: mustJSON(wsError{
			Code:    code,
			Message: message,
			Details: details,
		}),
	})
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

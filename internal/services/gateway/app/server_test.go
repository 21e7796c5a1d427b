package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/roundtablehq/roundtable/internal/services/gateway/auth"
	"github.com/roundtablehq/roundtable/internal/services/gateway/orchestrator"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage"
	"github.com/roundtablehq/roundtable/internal/services/gateway/storage/sqlite"
)

func openServerTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "gateway.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestNewServerRequiresHTTPAddr(t *testing.T) {
	if _, err := NewServer(Config{Store: openServerTestStore(t)}); err == nil {
		t.Fatal("expected error for empty HTTP address")
	}
}

func TestNewServerRequiresStore(t *testing.T) {
	if _, err := NewServer(Config{HTTPAddr: "127.0.0.1:0"}); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestListenAndServeNilServer(t *testing.T) {
	var s *Server
	if err := s.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected error for nil server")
	}
}

func TestHandlerUpEndpoint(t *testing.T) {
	store := openServerTestStore(t)
	t.Cleanup(func() {
		_ = store.Close()
	})
	hub := newRoomHub()
	orch := orchestrator.New(store, &fakeGatewayBackend{}, hub)
	t.Cleanup(orch.Close)
	handler := newHandler(&gateway{
		store:          store,
		orchestrator:   orch,
		hub:            hub,
		limits:         DefaultRateLimits(),
		maxConnections: DefaultMaxConnectionsPerUser,
	}, auth.Config{})

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/up", nil)
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if strings.TrimSpace(rr.Body.String()) != "OK" {
		t.Fatalf("body = %q, want OK", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/ws", nil)
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := NewServer(Config{
		HTTPAddr:           "127.0.0.1:0",
		Store:              openServerTestStore(t),
		DiscussionsBaseURL: "http://127.0.0.1:9",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer server.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}

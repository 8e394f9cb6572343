package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/events"
	"github.com/GentlemanHu/TelegramCopyTradeBot/internal/execution"
	"github.com/GentlemanHu/TelegramCopyTradeBot/pkg/config"
)

const testPassword = "open-sesame"

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	mgr := execution.NewManager(bus)
	profiles := map[string]config.SourceProfile{
		"whales": {Channel: "whales", PositionSize: 200, Leverage: 20},
	}
	return NewServer(mgr, bus, nil, profiles, "test-secret", string(hash))
}

func doJSON(s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router.ServeHTTP(w, req)
	return w
}

func loginToken(t *testing.T, s *Server) string {
	t.Helper()
	w := doJSON(s, http.MethodPost, "/api/auth/login", "", map[string]string{"password": testPassword})
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", w.Code, w.Body)
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("empty token")
	}
	return resp.Token
}

func TestHealthIsPublic(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s := newTestServer(t)
	w := doJSON(s, http.MethodPost, "/api/auth/login", "", map[string]string{"password": "nope"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newTestServer(t)

	w := doJSON(s, http.MethodGet, "/api/signals/active", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", w.Code)
	}

	w = doJSON(s, http.MethodGet, "/api/signals/active", "not-a-jwt", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d, want 401", w.Code)
	}

	w = doJSON(s, http.MethodGet, "/api/signals/active", loginToken(t, s), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("valid token: status = %d, body %s", w.Code, w.Body)
	}
}

func TestSubmitSignalRejectsBadCandidate(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	w := doJSON(s, http.MethodPost, "/api/signals", token, map[string]any{
		"exchange": "KRAKEN",
		"symbol":   "BTC",
		"action":   "OPEN_LONG",
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body %s", w.Code, w.Body)
	}
}

func TestSubmitSignalUnconfiguredExchange(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	// Valid candidate, but no Binance client registered.
	w := doJSON(s, http.MethodPost, "/api/signals", token, map[string]any{
		"exchange":    "BINANCE",
		"symbol":      "BTC",
		"action":      "OPEN_LONG",
		"entry_price": 50000,
		"stop_loss":   49000,
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502, body %s", w.Code, w.Body)
	}
}

func TestCloseWithoutPositionIs404(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s)

	w := doJSON(s, http.MethodPost, "/api/positions/close", token, map[string]string{
		"exchange": "BINANCE",
		"symbol":   "BTCUSDT",
	})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, body %s", w.Code, w.Body)
	}
}

func TestDefaultsForMergesProfile(t *testing.T) {
	s := newTestServer(t)

	d := s.defaultsFor("whales")
	if d.PositionSize != 200 || d.Leverage != 20 {
		t.Errorf("profile not applied: %+v", d)
	}

	d = s.defaultsFor("unknown")
	if d.PositionSize != 50 || d.Leverage != 10 {
		t.Errorf("base defaults wrong: %+v", d)
	}
}

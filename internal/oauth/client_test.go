package oauth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func testConfig(providerURL string) Config {
	return Config{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		AuthURL:      providerURL + "/authorize",
		TokenURL:     providerURL + "/token",
		UserInfoURL:  providerURL + "/userinfo",
		RedirectURL:  "http://localhost:8790/api/auth/callback",
	}
}

func TestAuthCodeURL(t *testing.T) {
	client := New(testConfig("https://idp.example.com"))
	raw := client.AuthCodeURL("state-123")

	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	query := parsed.Query()
	if query.Get("client_id") != "client-1" {
		t.Errorf("expected client_id, got %q", query.Get("client_id"))
	}
	if query.Get("state") != "state-123" {
		t.Errorf("expected state, got %q", query.Get("state"))
	}
	if query.Get("response_type") != "code" {
		t.Errorf("expected response_type=code, got %q", query.Get("response_type"))
	}
}

func TestExchangeAndUserInfo(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			if err := r.ParseForm(); err != nil {
				t.Fatalf("parse form: %v", err)
			}
			if r.Form.Get("code") != "code-1" || r.Form.Get("grant_type") != "authorization_code" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
		case "/userinfo":
			if r.Header.Get("Authorization") != "Bearer at-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"Alice Liddell","email":"alice@example.com"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer provider.Close()

	client := New(testConfig(provider.URL))
	ctx := context.Background()

	token, err := client.Exchange(ctx, "code-1")
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if token.AccessToken != "at-1" {
		t.Errorf("expected access token at-1, got %q", token.AccessToken)
	}

	info, err := client.UserInfo(ctx, token.AccessToken)
	if err != nil {
		t.Fatalf("UserInfo failed: %v", err)
	}
	if info.Principal() != "Alice Liddell" {
		t.Errorf("expected display name principal, got %q", info.Principal())
	}
}

func TestPrincipalFallsBackToEmail(t *testing.T) {
	info := UserInfo{Email: "bob@example.com"}
	if info.Principal() != "bob@example.com" {
		t.Errorf("expected email fallback, got %q", info.Principal())
	}
}

func TestExchangeRejectsProviderError(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer provider.Close()

	client := New(testConfig(provider.URL))
	if _, err := client.Exchange(context.Background(), "bad-code"); err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("expected status 400 error, got %v", err)
	}
}

func TestConfigured(t *testing.T) {
	if New(Config{}).Configured() {
		t.Errorf("empty config should not report configured")
	}
	if !New(testConfig("https://idp.example.com")).Configured() {
		t.Errorf("full config should report configured")
	}
}

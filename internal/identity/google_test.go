package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"campushub/api/internal/store"
)

func storeProfileFixture() store.Profile {
	return store.Profile{ID: "usr_1", Email: "avery@campus.edu", Username: "avery", IsEmailVerified: true}
}

func newFakeGoogle(t *testing.T, verified bool) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse token form: %v", err)
		}
		if r.Form.Get("grant_type") != "authorization_code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"fake-access-token"}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fake-access-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if verified {
			w.Write([]byte(`{"id":"g-123","email":"Avery@Campus.EDU","verified_email":true,"name":"Avery"}`))
		} else {
			w.Write([]byte(`{"id":"g-123","email":"avery@campus.edu","verified_email":false}`))
		}
	})
	return httptest.NewServer(mux)
}

func newTestGoogleClient(server *httptest.Server) *GoogleClient {
	return NewGoogleClient(GoogleConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8790/auth/google/callback",
		AuthURL:      server.URL + "/auth",
		TokenURL:     server.URL + "/token",
		UserInfoURL:  server.URL + "/userinfo",
	})
}

func TestAuthCodeURL(t *testing.T) {
	client := NewGoogleClient(GoogleConfig{
		ClientID:    "client-id",
		RedirectURL: "http://localhost:8790/auth/google/callback",
	})

	raw := client.AuthCodeURL("state-123")
	parsed, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid URL %q: %v", raw, err)
	}
	if !strings.HasPrefix(raw, defaultGoogleAuthURL) {
		t.Fatalf("expected default Google endpoint, got %s", raw)
	}
	query := parsed.Query()
	if query.Get("client_id") != "client-id" || query.Get("state") != "state-123" {
		t.Fatalf("unexpected query %v", query)
	}
	if query.Get("response_type") != "code" {
		t.Fatalf("expected code response type, got %s", query.Get("response_type"))
	}
}

func TestSignInWithGoogleCreatesProfile(t *testing.T) {
	server := newFakeGoogle(t, true)
	defer server.Close()

	fs := newFakeProfileStore()
	service := NewService(fs, nil, "http://localhost:8790", 15*time.Minute)

	profile, err := service.SignInWithGoogle(context.Background(), newTestGoogleClient(server), "good-code")
	if err != nil {
		t.Fatalf("SignInWithGoogle failed: %v", err)
	}
	if profile.Email != "avery@campus.edu" {
		t.Fatalf("expected normalized email, got %s", profile.Email)
	}
	if !profile.IsEmailVerified {
		t.Fatal("google profile should be born verified")
	}
}

func TestSignInWithGoogleReusesProfile(t *testing.T) {
	server := newFakeGoogle(t, true)
	defer server.Close()

	fs := newFakeProfileStore()
	fs.profiles["avery@campus.edu"] = storeProfileFixture()
	service := NewService(fs, nil, "http://localhost:8790", 15*time.Minute)

	profile, err := service.SignInWithGoogle(context.Background(), newTestGoogleClient(server), "good-code")
	if err != nil {
		t.Fatalf("SignInWithGoogle failed: %v", err)
	}
	if profile.ID != "usr_1" {
		t.Fatalf("expected existing profile usr_1, got %s", profile.ID)
	}
}

func TestSignInWithGoogleRejectsBadCode(t *testing.T) {
	server := newFakeGoogle(t, true)
	defer server.Close()

	service := NewService(newFakeProfileStore(), nil, "http://localhost:8790", 15*time.Minute)

	if _, err := service.SignInWithGoogle(context.Background(), newTestGoogleClient(server), "bad-code"); err == nil {
		t.Fatal("expected error for rejected code")
	}
}

func TestSignInWithGoogleRejectsUnverifiedEmail(t *testing.T) {
	server := newFakeGoogle(t, false)
	defer server.Close()

	service := NewService(newFakeProfileStore(), nil, "http://localhost:8790", 15*time.Minute)

	if _, err := service.SignInWithGoogle(context.Background(), newTestGoogleClient(server), "good-code"); err == nil {
		t.Fatal("expected error for unverified google email")
	}
}

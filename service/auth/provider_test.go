package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Iemontine/microblog/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func newTestGoogle(t *testing.T, userinfo http.HandlerFunc) *GoogleProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil || r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", userinfo)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewGoogleProvider("client", "secret", "http://localhost/callback")
	p.config.Endpoint = oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token"}
	p.userInfoURL = srv.URL + "/userinfo"
	return p
}

func TestGoogleProvider_Exchange(t *testing.T) {
	p := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"sub":"1082","name":"Ellen","email":"ellen@example.com"}`))
	})

	profile, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, &Profile{Subject: "1082", Name: "Ellen", Email: "ellen@example.com"}, profile)

	assert.Contains(t, p.AuthCodeURL("state-1"), "state=state-1")
}

func TestGoogleProvider_ExchangeFailures(t *testing.T) {
	p := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	})

	_, err := p.Exchange(context.Background(), "bad-code")
	assert.True(t, apperr.Is(err, apperr.UpstreamProvider))

	_, err = p.Exchange(context.Background(), "good-code")
	assert.True(t, apperr.Is(err, apperr.UpstreamProvider))

	_, err = p.Exchange(context.Background(), "")
	assert.True(t, apperr.Is(err, apperr.UpstreamProvider))
}

func TestGoogleProvider_MissingSubject(t *testing.T) {
	p := newTestGoogle(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"Ellen"}`))
	})

	_, err := p.Exchange(context.Background(), "good-code")
	assert.True(t, apperr.Is(err, apperr.UpstreamProvider))
}

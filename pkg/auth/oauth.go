package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	callbackType = "oauth_callback"
	callbackPath = "/oauth/callback"
)

// callbackMessage is the payload the authorization page posts back. A
// provider redirecting straight to the listener sends code and state instead
// of a token.
type callbackMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Code  string `json:"code,omitempty"`
	State string `json:"state"`
}

// codeExchange trades an authorization code for an access token.
type codeExchange func(ctx context.Context, code, redirectURL string) (string, error)

const callbackPage = `<!doctype html>
<html><body>
<p>Authentication complete. You can close this window.</p>
<script>window.close()</script>
</body></html>`

// oauthSession is the single in-flight handshake of one Authenticate call: a
// loopback listener that accepts exactly one callback message.
type oauthSession struct {
	state     string
	origin    string
	listener  net.Listener
	server    *http.Server
	tokens    chan string
	exchange  codeExchange
	delivered atomic.Bool
	closeOnce sync.Once
	log       zerolog.Logger
}

// newOAuthSession starts the listener. exchange may be nil, in which case
// only a token posted by the authorization page completes the handshake.
func newOAuthSession(addr string, exchange codeExchange, log zerolog.Logger) (*oauthSession, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	s := &oauthSession{
		state:    uuid.NewString(),
		origin:   "http://" + ln.Addr().String(),
		listener: ln,
		tokens:   make(chan string, 1),
		exchange: exchange,
		log:      log,
	}
	mux := http.NewServeMux()
	mux.HandleFunc(callbackPath, s.handleCallback)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn().Err(err).Msg("oauth callback listener stopped")
		}
	}()
	return s, nil
}

// RedirectURL is where the provider sends the browser after consent.
func (s *oauthSession) RedirectURL() string {
	return s.origin + callbackPath
}

func (s *oauthSession) handleCallback(w http.ResponseWriter, r *http.Request) {
	if origin := r.Header.Get("Origin"); origin != "" && origin != s.origin {
		s.log.Warn().Str("origin", origin).Msg("ignoring oauth callback from foreign origin")
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	var msg callbackMessage
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		msg = callbackMessage{Type: callbackType, Token: q.Get("token"), Code: q.Get("code"), State: q.Get("state")}
		if t := q.Get("type"); t != "" {
			msg.Type = t
		}
	case http.MethodPost:
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&msg); err != nil {
			http.Error(w, "invalid callback payload", http.StatusBadRequest)
			return
		}
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if msg.Type != callbackType {
		http.Error(w, "unexpected message type", http.StatusBadRequest)
		return
	}
	if msg.State != s.state {
		http.Error(w, "state mismatch", http.StatusForbidden)
		return
	}
	if msg.Token == "" && msg.Code != "" {
		if s.exchange == nil {
			http.Error(w, "authorization code received but no client secret is configured", http.StatusBadRequest)
			return
		}
		token, err := s.exchange(r.Context(), msg.Code, s.RedirectURL())
		if err != nil {
			s.log.Warn().Err(err).Msg("oauth code exchange failed")
			http.Error(w, "code exchange failed", http.StatusBadGateway)
			return
		}
		msg.Token = token
	}
	if msg.Token == "" {
		http.Error(w, "token is required", http.StatusBadRequest)
		return
	}
	if !s.delivered.CompareAndSwap(false, true) {
		http.Error(w, "callback already received", http.StatusConflict)
		return
	}
	s.tokens <- msg.Token

	if r.Method == http.MethodGet {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(callbackPage))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Wait blocks until the callback arrives or ctx ends.
func (s *oauthSession) Wait(ctx context.Context) (string, error) {
	select {
	case token := <-s.tokens:
		return token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close tears the listener down. Safe to call more than once.
func (s *oauthSession) Close() {
	s.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Debug().Err(err).Msg("oauth callback shutdown")
			_ = s.listener.Close()
		}
	})
}

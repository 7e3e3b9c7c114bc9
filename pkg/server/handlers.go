package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/wizard"
)

// decode reads a JSON body into dst and decrypts its secure fields. An empty
// body leaves dst untouched.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		sendError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := s.keys.decryptFields(dst); err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func categoryParam(w http.ResponseWriter, r *http.Request) (platforms.Category, bool) {
	c, err := platforms.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		sendError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return c, true
}

// mutate runs fn against the session under the lock and replies with the
// resulting snapshot.
func (s *Server) mutate(w http.ResponseWriter, fn func(*wizard.Session) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.session); err != nil {
		sendFailure(w, err)
		return
	}
	sendSuccess(w, s.session.Snapshot())
}

// runStep prepares a step under the lock and runs its backend call without
// it. The outcome is committed only if the session was not reset meanwhile.
func (s *Server) runStep(w http.ResponseWriter, r *http.Request, prepare func(*wizard.Session) (*wizard.Pending, error)) {
	s.mu.Lock()
	sess := s.session
	p, err := prepare(sess)
	s.mu.Unlock()
	if err != nil {
		sendFailure(w, err)
		return
	}

	commit := p.Run(r.Context())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != sess {
		sendError(w, http.StatusConflict, "session was reset while the step was running")
		return
	}
	if err := commit(); err != nil {
		sendFailure(w, err)
		return
	}
	sendSuccess(w, s.session.Snapshot())
}

func (s *Server) handleListPlatforms(w http.ResponseWriter, r *http.Request) {
	cats := platforms.Categories
	if q := r.URL.Query().Get("category"); q != "" {
		c, err := platforms.ParseCategory(q)
		if err != nil {
			sendError(w, http.StatusBadRequest, err.Error())
			return
		}
		cats = []platforms.Category{c}
	}
	list := map[platforms.Category][]platforms.Descriptor{}
	for _, c := range cats {
		list[c] = s.registry.List(c)
	}
	sendSuccess(w, map[string]any{
		"schemaVersion": s.registry.Version(),
		"platforms":     list,
	})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	keyID, spki, err := s.keys.publicKey()
	if err != nil {
		sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	sendSuccess(w, map[string]string{
		"keyId":     keyID,
		"publicKey": spki,
		"algorithm": "RSA-OAEP-256",
		"encoding":  "spki-base64",
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, func(*wizard.Session) error { return nil })
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, func(sess *wizard.Session) error {
		if err := sess.Next(); err != nil {
			return err
		}
		s.metrics.observeStep(string(sess.Step()))
		return nil
	})
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, func(sess *wizard.Session) error {
		if err := sess.Back(); err != nil {
			return err
		}
		s.metrics.observeStep(string(sess.Step()))
		return nil
	})
}

func (s *Server) handleGoTo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Step wizard.Step `json:"step"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, func(sess *wizard.Session) error {
		if err := sess.GoTo(req.Step); err != nil {
			return err
		}
		s.metrics.observeStep(string(sess.Step()))
		return nil
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.session = s.newSession()
	s.mu.Unlock()
	s.log.Info().Msg("session reset")
	s.handleGetSession(w, r)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sendSuccess(w, map[string]any{
		"summary":      s.session.Summary(),
		"instructions": s.session.Instructions(),
		"nextSteps":    wizard.NextSteps,
	})
}

func (s *Server) handleFinish(w http.ResponseWriter, r *http.Request) {
	s.mutate(w, func(sess *wizard.Session) error { return sess.Finish() })
}

func (s *Server) handleBackendStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.runStep(w, r, func(sess *wizard.Session) (*wizard.Pending, error) { return sess.PrepareBackend(req.URL) })
}

func (s *Server) handleDatabaseStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URI   string `json:"uri" secure:"rsa_oaep_b64" secure_key:"KeyID"`
		KeyID string `json:"keyId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.runStep(w, r, func(sess *wizard.Session) (*wizard.Pending, error) { return sess.PrepareDatabase(req.URI) })
}

func (s *Server) handleAdminStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email           string `json:"email"`
		Password        string `json:"password" secure:"rsa_oaep_b64" secure_key:"KeyID"`
		ConfirmPassword string `json:"confirmPassword" secure:"rsa_oaep_b64" secure_key:"KeyID"`
		KeyID           string `json:"keyId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	form := wizard.AdminForm{Email: req.Email, Password: req.Password, ConfirmPassword: req.ConfirmPassword}
	s.runStep(w, r, func(sess *wizard.Session) (*wizard.Pending, error) { return sess.PrepareAdmin(form) })
}

func (s *Server) handleSampleDataStep(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Install bool `json:"install"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.runStep(w, r, func(sess *wizard.Session) (*wizard.Pending, error) { return sess.PrepareSampleData(req.Install) })
}

func (s *Server) handleSelectPlatform(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	var req struct {
		PlatformID string `json:"platformId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, func(sess *wizard.Session) error { return sess.SelectPlatform(c, req.PlatformID) })
}

// handleBuildSettings replaces the build settings of a category.
func (s *Server) handleBuildSettings(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	var req deployment.BuildSettings
	if !s.decode(w, r, &req) {
		return
	}
	s.mutate(w, func(sess *wizard.Session) error {
		return sess.UpdateBuildSettings(c, func(b *deployment.BuildSettings) { *b = req })
	})
}

type authRequest struct {
	Token       string            `json:"token" secure:"rsa_oaep_b64" secure_key:"KeyID"`
	Credentials map[string]string `json:"credentials" secure:"rsa_oaep_b64" secure_key:"KeyID"`
	KeyID       string            `json:"keyId"`
}

// resolved hands an already obtained result to Session.Authenticate.
type resolved struct {
	res auth.Result
}

func (a resolved) Authenticate(ctx context.Context, d platforms.Descriptor) (auth.Result, error) {
	return a.res, nil
}

// handleAuthenticate resolves credentials without holding the session lock.
// OAuth platforms accept a token the browser already obtained and verify it;
// without one the loopback handshake runs on this machine. Token and
// credential platforms answer their prompt from the request body.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	c, ok := categoryParam(w, r)
	if !ok {
		return
	}
	var req authRequest
	if !s.decode(w, r, &req) {
		return
	}

	s.mu.Lock()
	d, err := s.session.Deployment().Descriptor(c)
	s.mu.Unlock()
	if err != nil {
		sendFailure(w, err)
		return
	}

	var res auth.Result
	switch {
	case d.Auth.Type == platforms.AuthOAuth && req.Token != "":
		res, err = s.auth.Verify(r.Context(), d, req.Token)
	case d.Auth.Type == platforms.AuthOAuth:
		res, err = s.auth.Authenticate(r.Context(), d)
	default:
		prompter := auth.StaticPrompter{Token: req.Token, Credentials: req.Credentials}
		res, err = s.auth.UsingPrompter(prompter).Authenticate(r.Context(), d)
	}
	s.metrics.observeAuth(d.ID, err)
	if err != nil {
		sendFailure(w, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.session.Deployment().Descriptor(c)
	if err != nil || current.ID != d.ID {
		sendError(w, http.StatusConflict, "platform changed during authentication")
		return
	}
	if err := s.session.Authenticate(r.Context(), c, resolved{res: res}); err != nil {
		sendFailure(w, err)
		return
	}
	sendSuccess(w, s.session.Snapshot())
}

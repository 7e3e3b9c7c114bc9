package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/executor"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/setupapi"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/wizard"
)

type stubBackend struct{}

func (stubBackend) Health(ctx context.Context) error { return nil }
func (stubBackend) Status(ctx context.Context) (setupapi.Status, error) {
	return setupapi.Status{NeedsSetup: true}, nil
}
func (stubBackend) TestDatabase(ctx context.Context, uri string) error            { return nil }
func (stubBackend) CreateAdmin(ctx context.Context, email, password string) error { return nil }
func (stubBackend) InstallSampleData(ctx context.Context) (int, error)            { return 12, nil }

// stubExecutor records the request and replays a scripted outcome.
type stubExecutor struct {
	lines []string
	err   error
	got   *executor.Request
}

func (e *stubExecutor) Deploy(ctx context.Context, req executor.Request) error {
	e.got = &req
	for _, l := range e.lines {
		req.Logf("%s\n", l)
	}
	return e.err
}

type reply struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	base := []Option{WithServiceDialer(func(string) (wizard.SetupService, error) { return stubBackend{}, nil })}
	srv, err := New(append(base, opts...)...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func call(t *testing.T, ts *httptest.Server, method, path string, body any) (int, reply) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out reply
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

type configView struct {
	PlatformID string `json:"platformId"`
	AuthResult *struct {
		IsAuthenticated  bool     `json:"isAuthenticated"`
		CredentialFields []string `json:"credentialFields"`
	} `json:"authResult"`
	BuildSettings deployment.BuildSettings    `json:"buildSettings"`
	Validation    deployment.ValidationResult `json:"validation"`
}

type snapshotView struct {
	Step       wizard.Step                       `json:"step"`
	Complete   bool                              `json:"complete"`
	Admin      wizard.AdminState                 `json:"admin"`
	SampleData wizard.SampleDataState            `json:"sampleData"`
	Deployment map[platforms.Category]configView `json:"deployment"`
}

func snapshotOf(t *testing.T, r reply) snapshotView {
	t.Helper()
	var snap snapshotView
	require.NoError(t, json.Unmarshal(r.Data, &snap))
	return snap
}

var ftpCredentials = map[string]any{
	"credentials": map[string]string{"host": "ftp.example.com", "username": "deploy", "password": "s3cret"},
}

// walkToDeployment completes the four backend steps.
func walkToDeployment(t *testing.T, ts *httptest.Server) {
	t.Helper()
	steps := []struct {
		path string
		body any
	}{
		{"/api/steps/backend", map[string]string{"url": "http://localhost:5000"}},
		{"/api/steps/database", map[string]string{"uri": "mongodb://localhost:27017/shop"}},
		{"/api/steps/admin", map[string]string{"email": "admin@example.com", "password": "hunter222", "confirmPassword": "hunter222"}},
		{"/api/steps/sample-data", map[string]bool{"install": true}},
	}
	for _, st := range steps {
		status, r := call(t, ts, http.MethodPost, st.path, st.body)
		require.Equal(t, http.StatusOK, status, "%s: %s", st.path, r.Message)
		status, r = call(t, ts, http.MethodPost, "/api/session/next", nil)
		require.Equal(t, http.StatusOK, status, "next after %s: %s", st.path, r.Message)
	}
}

func configureApache(t *testing.T, ts *httptest.Server, c platforms.Category) {
	t.Helper()
	status, r := call(t, ts, http.MethodPost, "/api/deployment/"+string(c)+"/platform", map[string]string{"platformId": "apache"})
	require.Equal(t, http.StatusOK, status, r.Message)
	status, r = call(t, ts, http.MethodPost, "/api/deployment/"+string(c)+"/authenticate", ftpCredentials)
	require.Equal(t, http.StatusOK, status, r.Message)
}

func TestHealthAndPlatforms(t *testing.T) {
	_, ts := newTestServer(t)

	status, r := call(t, ts, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, r.Success)

	status, r = call(t, ts, http.MethodGet, "/api/platforms?category=backend", nil)
	require.Equal(t, http.StatusOK, status)
	var list struct {
		SchemaVersion string                                        `json:"schemaVersion"`
		Platforms     map[platforms.Category][]platforms.Descriptor `json:"platforms"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &list))
	assert.Equal(t, "1.0.0", list.SchemaVersion)
	assert.NotContains(t, list.Platforms, platforms.Frontend)
	var ids []string
	for _, d := range list.Platforms[platforms.Backend] {
		ids = append(ids, d.ID)
	}
	assert.ElementsMatch(t, []string{"render", "railway", "apache"}, ids)

	status, r = call(t, ts, http.MethodGet, "/api/platforms?category=mobile", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, r.Success)
}

func TestSessionFlow(t *testing.T) {
	_, ts := newTestServer(t)

	status, r := call(t, ts, http.MethodPost, "/api/session/next", nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(r.Data), "backend is not connected")

	walkToDeployment(t, ts)

	status, r = call(t, ts, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, status)
	snap := snapshotOf(t, r)
	assert.Equal(t, wizard.StepDeployment, snap.Step)
	assert.Equal(t, 12, snap.SampleData.ProductsCreated)

	status, r = call(t, ts, http.MethodPost, "/api/session/next", nil)
	require.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(r.Data), "frontend: No platform selected")

	configureApache(t, ts, platforms.Frontend)
	configureApache(t, ts, platforms.Backend)

	status, r = call(t, ts, http.MethodPost, "/api/session/next", nil)
	require.Equal(t, http.StatusOK, status, r.Message)
	assert.Equal(t, wizard.StepFinish, snapshotOf(t, r).Step)

	status, r = call(t, ts, http.MethodGet, "/api/session/summary", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(r.Data), "Sample data: Installed (12 products)")

	status, r = call(t, ts, http.MethodPost, "/api/session/goto", map[string]string{"step": "database"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, wizard.StepDatabase, snapshotOf(t, r).Step)
	status, _ = call(t, ts, http.MethodPost, "/api/session/goto", map[string]string{"step": "finish"})
	require.Equal(t, http.StatusOK, status)

	status, r = call(t, ts, http.MethodPost, "/api/session/finish", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, snapshotOf(t, r).Complete)

	status, _ = call(t, ts, http.MethodPost, "/api/session/back", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, r = call(t, ts, http.MethodPost, "/api/session/reset", nil)
	require.Equal(t, http.StatusOK, status)
	snap = snapshotOf(t, r)
	assert.False(t, snap.Complete)
	assert.Equal(t, wizard.StepBackend, snap.Step)
}

func TestStepFormErrors(t *testing.T) {
	_, ts := newTestServer(t)

	status, r := call(t, ts, http.MethodPost, "/api/steps/backend", map[string]string{"url": ""})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(r.Data), "Please enter a backend URL")

	status, _ = call(t, ts, http.MethodPost, "/api/steps/admin", map[string]string{"email": "admin@example.com", "password": "hunter222", "confirmPassword": "hunter222"})
	assert.Equal(t, http.StatusConflict, status, "admin needs a connected backend")

	status, r = call(t, ts, http.MethodPost, "/api/steps/admin", map[string]string{"email": "nope", "password": "short", "confirmPassword": "other"})
	assert.Equal(t, http.StatusBadRequest, status)
	var data struct {
		Messages []string `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &data))
	assert.ElementsMatch(t, []string{
		"A valid email address is required",
		"Password must be at least 8 characters",
		"Passwords do not match",
	}, data.Messages)

	status, _ = call(t, ts, http.MethodPost, "/api/deployment/mobile/platform", map[string]string{"platformId": "apache"})
	assert.Equal(t, http.StatusBadRequest, status)
	status, _ = call(t, ts, http.MethodPost, "/api/deployment/frontend/platform", map[string]string{"platformId": "heroku"})
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = call(t, ts, http.MethodPost, "/api/deployment/frontend/authenticate", ftpCredentials)
	assert.Equal(t, http.StatusConflict, status, "no platform selected")
}

func TestBuildSettings(t *testing.T) {
	_, ts := newTestServer(t)

	call(t, ts, http.MethodPost, "/api/deployment/backend/platform", map[string]string{"platformId": "render"})
	status, r := call(t, ts, http.MethodPost, "/api/deployment/backend/build", map[string]any{
		"runtimeVersion":  "12.0.0",
		"customDomain":    "not a domain",
		"environmentVars": map[string]string{"NODE_ENV": "production"},
	})
	require.Equal(t, http.StatusOK, status)
	cfg := snapshotOf(t, r).Deployment[platforms.Backend]
	assert.Equal(t, "12.0.0", cfg.BuildSettings.RuntimeVersion)
	errs := cfg.Validation.Errors
	assert.Contains(t, errs, "Render token is required")
	assert.Contains(t, errs, "Invalid custom domain format")
	assert.Contains(t, errs, "Runtime version 14.0.0 or higher is required (configured 12.0.0)")
	assert.Contains(t, strings.Join(errs, "\n"), "PORT")
}

func registryWithTokenCheck(t *testing.T, validationURL string) *platforms.Registry {
	t.Helper()
	doc := fmt.Sprintf(`schemaVersion: 1.0.0
frontend: []
backend:
  - id: acme
    name: Acme Cloud
    auth:
      type: api-token
      validationUrl: %s
`, validationURL)
	reg, err := platforms.Load(strings.NewReader(doc))
	require.NoError(t, err)
	return reg
}

func TestAuthenticateToken(t *testing.T) {
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer provider.Close()

	_, ts := newTestServer(t, WithRegistry(registryWithTokenCheck(t, provider.URL+"/me")))
	call(t, ts, http.MethodPost, "/api/deployment/backend/platform", map[string]string{"platformId": "acme"})

	status, r := call(t, ts, http.MethodPost, "/api/deployment/backend/authenticate", map[string]string{"token": "bad"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Contains(t, r.Message, "HTTP 401")

	status, _ = call(t, ts, http.MethodPost, "/api/deployment/backend/authenticate", nil)
	assert.Equal(t, http.StatusBadRequest, status, "missing token is a dismissed prompt")

	status, r = call(t, ts, http.MethodPost, "/api/deployment/backend/authenticate", map[string]string{"token": "good"})
	require.Equal(t, http.StatusOK, status, r.Message)
	cfg := snapshotOf(t, r).Deployment[platforms.Backend]
	assert.True(t, cfg.Validation.IsValid)
	assert.NotContains(t, string(r.Data), "good", "tokens never leave the server")

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `storesetup_auth_attempts_total{outcome="rejected",platform="acme"} 1`)
	assert.Contains(t, string(body), `storesetup_auth_attempts_total{outcome="cancelled",platform="acme"} 1`)
	assert.Contains(t, string(body), `storesetup_auth_attempts_total{outcome="success",platform="acme"} 1`)
}

func encrypt(t *testing.T, ts *httptest.Server, plain string) (string, string) {
	t.Helper()
	status, r := call(t, ts, http.MethodGet, "/api/crypto/public-key", nil)
	require.Equal(t, http.StatusOK, status)
	var key struct {
		KeyID     string `json:"keyId"`
		PublicKey string `json:"publicKey"`
	}
	require.NoError(t, json.Unmarshal(r.Data, &key))
	der, err := base64.StdEncoding.DecodeString(key.PublicKey)
	require.NoError(t, err)
	pub, err := x509.ParsePKIXPublicKey(der)
	require.NoError(t, err)
	ct, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub.(*rsa.PublicKey), []byte(plain), nil)
	require.NoError(t, err)
	return key.KeyID, base64.StdEncoding.EncodeToString(ct)
}

func TestEncryptedSecrets(t *testing.T) {
	_, ts := newTestServer(t)
	call(t, ts, http.MethodPost, "/api/steps/backend", map[string]string{"url": "http://localhost:5000"})

	keyID, ct := encrypt(t, ts, "hunter222")
	status, r := call(t, ts, http.MethodPost, "/api/steps/admin", map[string]string{
		"email": "admin@example.com", "password": ct, "confirmPassword": ct, "keyId": keyID,
	})
	require.Equal(t, http.StatusOK, status, r.Message)
	assert.True(t, snapshotOf(t, r).Admin.IsCreated)

	status, r = call(t, ts, http.MethodPost, "/api/steps/admin", map[string]string{
		"email": "admin@example.com", "password": ct, "confirmPassword": ct, "keyId": "k-other",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, r.Message, "unknown key id")
}

func writeArtifacts(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0o644))
	return dir
}

func readStream(t *testing.T, ts *httptest.Server, path string, body any) string {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := ts.Client().Post(ts.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(out)
}

func TestDeployStream(t *testing.T) {
	t.Run("done", func(t *testing.T) {
		exec := &stubExecutor{lines: []string{"📤 index.html"}}
		_, ts := newTestServer(t, WithExecutor("apache", exec), WithArtifactDir(writeArtifacts(t)))
		configureApache(t, ts, platforms.Frontend)

		out := readStream(t, ts, "/api/deploy/frontend", nil)
		assert.Contains(t, out, "data: Connected\n\n")
		assert.Contains(t, out, "data: 🚀 Deploying frontend to Apache\n\n")
		assert.Contains(t, out, "data: 📤 index.html\n\n")
		assert.True(t, strings.HasSuffix(out, "event: done\ndata: Deployment complete\n\n"), out)
		require.NotNil(t, exec.got)
		assert.Equal(t, "ftp.example.com", exec.got.Config.AuthResult.Credential("host"))

		resp, err := ts.Client().Get(ts.URL + "/metrics")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Contains(t, string(body), `storesetup_deployments_total{outcome="success",platform="apache"} 1`)
		assert.Contains(t, string(body), `storesetup_validations_total{category="frontend",platform="apache",result="valid"}`)
	})

	t.Run("transfer failure", func(t *testing.T) {
		exec := &stubExecutor{err: &executor.DeploymentError{
			Platform: "apache",
			Kind:     executor.KindTransferFailure,
			Uploaded: 2,
			Err:      errors.New("connection reset"),
		}}
		_, ts := newTestServer(t, WithExecutor("apache", exec))
		configureApache(t, ts, platforms.Backend)

		out := readStream(t, ts, "/api/deploy/backend", map[string]string{"artifactDir": writeArtifacts(t)})
		assert.Contains(t, out, "2 file(s) reached the server before the failure")
		assert.Contains(t, out, "event: error\ndata: deployment failed:")
		assert.Contains(t, out, "connection reset")
	})

	t.Run("invalid configuration", func(t *testing.T) {
		_, ts := newTestServer(t, WithArtifactDir(writeArtifacts(t)))
		call(t, ts, http.MethodPost, "/api/deployment/frontend/platform", map[string]string{"platformId": "vercel"})

		out := readStream(t, ts, "/api/deploy/frontend", nil)
		assert.Contains(t, out, "event: error")
		assert.Contains(t, out, "Vercel token is required")
	})

	t.Run("no platform", func(t *testing.T) {
		_, ts := newTestServer(t)
		status, _ := call(t, ts, http.MethodPost, "/api/deploy/frontend", nil)
		assert.Equal(t, http.StatusConflict, status)
	})
}

// slowBackend holds its health check until release is closed.
type slowBackend struct {
	stubBackend
	entered chan struct{}
	release chan struct{}
}

func (b slowBackend) Health(ctx context.Context) error {
	b.entered <- struct{}{}
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestStepCallDoesNotBlockSession(t *testing.T) {
	backend := slowBackend{entered: make(chan struct{}, 1), release: make(chan struct{})}
	_, ts := newTestServer(t, WithServiceDialer(func(string) (wizard.SetupService, error) { return backend, nil }))

	post := func() <-chan int {
		done := make(chan int, 1)
		go func() {
			body := strings.NewReader(`{"url":"http://localhost:5000"}`)
			resp, err := ts.Client().Post(ts.URL+"/api/steps/backend", "application/json", body)
			if err != nil {
				done <- 0
				return
			}
			resp.Body.Close()
			done <- resp.StatusCode
		}()
		return done
	}

	first := post()
	<-backend.entered

	status, r := call(t, ts, http.MethodGet, "/api/session", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, wizard.StepBackend, snapshotOf(t, r).Step)

	status, _ = call(t, ts, http.MethodPost, "/api/session/reset", nil)
	require.Equal(t, http.StatusOK, status)

	backend.release <- struct{}{}
	assert.Equal(t, http.StatusConflict, <-first, "reset while the health check ran")

	second := post()
	<-backend.entered
	close(backend.release)
	assert.Equal(t, http.StatusOK, <-second)

	status, r = call(t, ts, http.MethodPost, "/api/session/next", nil)
	require.Equal(t, http.StatusOK, status, r.Message)
	assert.Equal(t, wizard.StepDatabase, snapshotOf(t, r).Step)
}

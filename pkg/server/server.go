package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/executor"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/wizard"
)

// Server exposes one wizard session over HTTP. Every session mutation is
// serialized through mu; authentication and deploys run on copies so a slow
// provider does not block the other endpoints.
type Server struct {
	mu      sync.Mutex
	session *wizard.Session

	registry    *platforms.Registry
	dial        wizard.ServiceDialer
	auth        *auth.Orchestrator
	dispatcher  *executor.Dispatcher
	artifactDir string
	opener      auth.Opener
	keys        *keyring
	metrics     *Metrics
	log         zerolog.Logger
	router      chi.Router
}

type Option func(*config)

type config struct {
	registry    *platforms.Registry
	dial        wizard.ServiceDialer
	auth        *auth.Orchestrator
	executors   map[string]executor.Executor
	artifactDir string
	opener      auth.Opener
	log         zerolog.Logger
}

func WithRegistry(r *platforms.Registry) Option { return func(c *config) { c.registry = r } }

func WithServiceDialer(d wizard.ServiceDialer) Option { return func(c *config) { c.dial = d } }

// WithOrchestrator sets the authentication orchestrator. Request bodies that
// carry a token or credentials replace its prompter per request.
func WithOrchestrator(o *auth.Orchestrator) Option { return func(c *config) { c.auth = o } }

// WithExecutor registers e for platformID on top of the default executors.
func WithExecutor(platformID string, e executor.Executor) Option {
	return func(c *config) { c.executors[platformID] = e }
}

// WithArtifactDir is the default build output deployed by /api/deploy.
func WithArtifactDir(dir string) Option { return func(c *config) { c.artifactDir = dir } }

// WithOpener sets how the server URL is opened on start.
func WithOpener(o auth.Opener) Option { return func(c *config) { c.opener = o } }

func WithLogger(l zerolog.Logger) Option { return func(c *config) { c.log = l } }

func New(opts ...Option) (*Server, error) {
	cfg := config{
		registry:  platforms.Default(),
		dial:      wizard.DialSetupAPI(),
		executors: map[string]executor.Executor{},
		opener:    auth.BrowserOpener{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	keys, err := newKeyring()
	if err != nil {
		return nil, fmt.Errorf("init secure keypair: %w", err)
	}

	s := &Server{
		registry:    cfg.registry,
		dial:        cfg.dial,
		auth:        cfg.auth,
		artifactDir: cfg.artifactDir,
		opener:      cfg.opener,
		keys:        keys,
		metrics:     NewMetrics(),
		log:         cfg.log,
	}
	if s.auth == nil {
		s.auth = auth.NewOrchestrator(auth.WithLogger(cfg.log))
	}
	s.dispatcher = executor.Default(
		executor.WithLogger(cfg.log),
		executor.WithResultHook(s.metrics.observeDeploy),
	)
	for id, e := range cfg.executors {
		s.dispatcher.Register(id, e)
	}
	s.session = s.newSession()
	s.router = s.routes()
	return s, nil
}

func (s *Server) newSession() *wizard.Session {
	return wizard.NewSession(
		wizard.WithRegistry(s.registry),
		wizard.WithServiceDialer(s.dial),
		wizard.WithLogger(s.log),
		wizard.WithStoreOptions(deployment.WithObserver(s.metrics.observeValidation)),
	)
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		sendSuccess(w, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/platforms", s.handleListPlatforms)
		r.Get("/crypto/public-key", s.handlePublicKey)

		r.Route("/session", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Post("/next", s.handleNext)
			r.Post("/back", s.handleBack)
			r.Post("/goto", s.handleGoTo)
			r.Post("/reset", s.handleReset)
			r.Get("/summary", s.handleSummary)
			r.Post("/finish", s.handleFinish)
		})

		r.Route("/steps", func(r chi.Router) {
			r.Post("/backend", s.handleBackendStep)
			r.Post("/database", s.handleDatabaseStep)
			r.Post("/admin", s.handleAdminStep)
			r.Post("/sample-data", s.handleSampleDataStep)
		})

		r.Route("/deployment/{category}", func(r chi.Router) {
			r.Post("/platform", s.handleSelectPlatform)
			r.Post("/build", s.handleBuildSettings)
			r.Post("/authenticate", s.handleAuthenticate)
		})

		r.Post("/deploy/{category}", s.handleDeploy)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Debug().
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		}()
		next.ServeHTTP(ww, r)
	})
}

// ListenAndServe serves on localhost:port until ctx is cancelled. With
// openBrowser set the interface is opened in the system browser.
func (s *Server) ListenAndServe(ctx context.Context, port int, openBrowser bool) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	url := fmt.Sprintf("http://localhost:%d", ln.Addr().(*net.TCPAddr).Port)
	s.log.Info().Str("url", url).Msg("starting web interface")
	if openBrowser {
		if err := s.opener.Open(url); err != nil {
			s.log.Warn().Err(err).Msg("failed to open browser")
		}
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

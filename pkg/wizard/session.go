package wizard

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/setupapi"
)

type Step string

const (
	StepBackend    Step = "backend"
	StepDatabase   Step = "database"
	StepAdmin      Step = "admin"
	StepSampleData Step = "sample-data"
	StepDeployment Step = "deployment"
	StepFinish     Step = "finish"
)

// Steps is the fixed wizard order.
var Steps = []Step{StepBackend, StepDatabase, StepAdmin, StepSampleData, StepDeployment, StepFinish}

var (
	ErrFirstStep       = errors.New("already at the first step")
	ErrLastStep        = errors.New("already at the last step")
	ErrSessionComplete = errors.New("setup session is complete")
	ErrNotReached      = errors.New("step has not been reached yet")
	ErrNotConnected    = errors.New("backend is not connected")
	ErrStaleStep       = errors.New("step was submitted again before this attempt finished")
)

// StepIncompleteError is returned by Next when the current step's
// completion check fails.
type StepIncompleteError struct {
	Step    Step
	Reasons []string
}

func (e *StepIncompleteError) Error() string {
	return fmt.Sprintf("step %s is not complete: %s", e.Step, strings.Join(e.Reasons, "; "))
}

// SetupService is the store backend the first wizard steps talk to.
type SetupService interface {
	Health(ctx context.Context) error
	Status(ctx context.Context) (setupapi.Status, error)
	TestDatabase(ctx context.Context, uri string) error
	CreateAdmin(ctx context.Context, email, password string) error
	InstallSampleData(ctx context.Context) (int, error)
}

// ServiceDialer builds a SetupService for a backend base URL.
type ServiceDialer func(baseURL string) (SetupService, error)

// Authenticator resolves a platform's credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, d platforms.Descriptor) (auth.Result, error)
}

type BackendState struct {
	URL         string `json:"url"`
	IsConnected bool   `json:"isConnected"`
}

type DatabaseState struct {
	URI         string `json:"uri"`
	IsConnected bool   `json:"isConnected"`
}

type AdminState struct {
	Email     string `json:"email"`
	IsCreated bool   `json:"isCreated"`
}

type SampleDataState struct {
	Install         bool   `json:"install"`
	IsInstalled     bool   `json:"isInstalled"`
	ProductsCreated int    `json:"productsCreated"`
	Error           string `json:"error,omitempty"`
}

// Session is one run through the setup wizard. It is single-owner; callers
// sharing it across goroutines must serialize access.
type Session struct {
	id       string
	current  int
	furthest int
	complete bool

	backend    BackendState
	database   DatabaseState
	admin      AdminState
	sampleData SampleDataState
	store      *deployment.Store

	attempts map[Step]int

	service SetupService
	dial    ServiceDialer
	log     zerolog.Logger
}

type Option func(*sessionConfig)

type sessionConfig struct {
	registry  *platforms.Registry
	dial      ServiceDialer
	log       zerolog.Logger
	storeOpts []deployment.StoreOption
}

func WithRegistry(r *platforms.Registry) Option { return func(c *sessionConfig) { c.registry = r } }

func WithServiceDialer(d ServiceDialer) Option { return func(c *sessionConfig) { c.dial = d } }

func WithLogger(l zerolog.Logger) Option { return func(c *sessionConfig) { c.log = l } }

// WithStoreOptions passes options through to the deployment store.
func WithStoreOptions(opts ...deployment.StoreOption) Option {
	return func(c *sessionConfig) { c.storeOpts = append(c.storeOpts, opts...) }
}

// DialSetupAPI is the default ServiceDialer.
func DialSetupAPI(opts ...setupapi.Option) ServiceDialer {
	return func(baseURL string) (SetupService, error) {
		return setupapi.New(baseURL, opts...)
	}
}

func NewSession(opts ...Option) *Session {
	cfg := sessionConfig{
		registry: platforms.Default(),
		dial:     DialSetupAPI(),
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	id := uuid.NewString()
	log := cfg.log.With().Str("session", id).Logger()
	storeOpts := append([]deployment.StoreOption{deployment.WithLogger(log)}, cfg.storeOpts...)
	return &Session{
		id:       id,
		store:    deployment.NewStore(cfg.registry, storeOpts...),
		attempts: map[Step]int{},
		dial:     cfg.dial,
		log:      log,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Step() Step { return Steps[s.current] }

func (s *Session) StepIndex() int { return s.current }

func (s *Session) Complete() bool { return s.complete }

func (s *Session) Backend() BackendState { return s.backend }

func (s *Session) Database() DatabaseState { return s.database }

func (s *Session) Admin() AdminState { return s.admin }

func (s *Session) SampleData() SampleDataState { return s.sampleData }

// Deployment exposes the deployment store for reads and edits.
func (s *Session) Deployment() *deployment.Store { return s.store }

// CanProceed reports whether Next would succeed from the current step.
func (s *Session) CanProceed() bool {
	return s.incomplete() == nil
}

// Next advances one step if the current step is complete. Earlier steps are
// not re-checked.
func (s *Session) Next() error {
	if s.complete {
		return ErrSessionComplete
	}
	if s.current == len(Steps)-1 {
		return ErrLastStep
	}
	if err := s.incomplete(); err != nil {
		return err
	}
	s.current++
	if s.current > s.furthest {
		s.furthest = s.current
	}
	s.log.Info().Str("step", string(s.Step())).Msg("wizard advanced")
	return nil
}

func (s *Session) Back() error {
	if s.complete {
		return ErrSessionComplete
	}
	if s.current == 0 {
		return ErrFirstStep
	}
	s.current--
	return nil
}

// GoTo jumps to any step that has already been reached.
func (s *Session) GoTo(step Step) error {
	if s.complete {
		return ErrSessionComplete
	}
	for i, st := range Steps {
		if st != step {
			continue
		}
		if i > s.furthest {
			return fmt.Errorf("%s: %w", step, ErrNotReached)
		}
		s.current = i
		return nil
	}
	return fmt.Errorf("unknown step %q", step)
}

// Finish ends the session. It is only allowed from the finish step.
func (s *Session) Finish() error {
	if s.complete {
		return ErrSessionComplete
	}
	if Steps[s.current] != StepFinish {
		return &StepIncompleteError{Step: s.Step(), Reasons: []string{"setup can only be completed from the finish step"}}
	}
	s.complete = true
	s.log.Info().Msg("setup complete")
	return nil
}

func (s *Session) incomplete() *StepIncompleteError {
	var reasons []string
	switch Steps[s.current] {
	case StepBackend:
		if !s.backend.IsConnected {
			reasons = append(reasons, "backend is not connected")
		}
	case StepDatabase:
		if !s.database.IsConnected {
			reasons = append(reasons, "database connection has not been verified")
		}
	case StepAdmin:
		if !s.admin.IsCreated {
			reasons = append(reasons, "admin account has not been created")
		}
	case StepSampleData:
		if s.sampleData.Install && !s.sampleData.IsInstalled && s.sampleData.Error != "" {
			reasons = append(reasons, "sample data installation failed: "+s.sampleData.Error)
		}
	case StepDeployment:
		for _, c := range platforms.Categories {
			cfg, _ := s.store.Configuration(c)
			for _, msg := range cfg.Validation().Errors {
				reasons = append(reasons, fmt.Sprintf("%s: %s", c, msg))
			}
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	return &StepIncompleteError{Step: s.Step(), Reasons: reasons}
}

// Snapshot is a read-only view of the session for rendering.
type Snapshot struct {
	ID                string                                          `json:"id"`
	Step              Step                                            `json:"step"`
	StepIndex         int                                             `json:"stepIndex"`
	FurthestStepIndex int                                             `json:"furthestStepIndex"`
	Steps             []Step                                          `json:"steps"`
	CanProceed        bool                                            `json:"canProceed"`
	Complete          bool                                            `json:"complete"`
	Backend           BackendState                                    `json:"backend"`
	Database          DatabaseState                                   `json:"database"`
	Admin             AdminState                                      `json:"admin"`
	SampleData        SampleDataState                                 `json:"sampleData"`
	Deployment        map[platforms.Category]deployment.Configuration `json:"deployment"`
}

// Snapshot copies the session state. Database credentials are redacted.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:                s.id,
		Step:              s.Step(),
		StepIndex:         s.current,
		FurthestStepIndex: s.furthest,
		Steps:             append([]Step(nil), Steps...),
		CanProceed:        s.CanProceed(),
		Complete:          s.complete,
		Backend:           s.backend,
		Database:          s.database,
		Admin:             s.admin,
		SampleData:        s.sampleData,
		Deployment:        map[platforms.Category]deployment.Configuration{},
	}
	if u, err := url.Parse(s.database.URI); err == nil && u.User != nil {
		snap.Database.URI = u.Redacted()
	}
	for _, c := range platforms.Categories {
		cfg, _ := s.store.Configuration(c)
		snap.Deployment[c] = cfg
	}
	return snap
}

func (s *Session) guard() error {
	if s.complete {
		return ErrSessionComplete
	}
	return nil
}

package wizard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

var formValidator = validator.New()

// FormError lists every rejected field of a step form.
type FormError struct {
	Messages []string
}

func (e *FormError) Error() string {
	return strings.Join(e.Messages, "; ")
}

// Pending is a step whose input passed the local checks and whose backend
// call has not run yet. Run performs the call without touching the session,
// so the caller may release whatever lock guards it. The returned commit
// records the outcome and must run under that lock again.
type Pending struct {
	run func(ctx context.Context) func() error
}

func (p *Pending) Run(ctx context.Context) (commit func() error) {
	return p.run(ctx)
}

// attempt starts a new attempt at step. Commits of older attempts fail with
// ErrStaleStep.
func (s *Session) attempt(step Step) int {
	s.attempts[step]++
	return s.attempts[step]
}

func (s *Session) pending(step Step, n int, call func(ctx context.Context) func() error) *Pending {
	return &Pending{run: func(ctx context.Context) func() error {
		apply := call(ctx)
		return func() error {
			if err := s.guard(); err != nil {
				return err
			}
			if s.attempts[step] != n {
				return fmt.Errorf("%s: %w", step, ErrStaleStep)
			}
			return apply()
		}
	}}
}

func run(ctx context.Context, p *Pending, err error) error {
	if err != nil {
		return err
	}
	return p.Run(ctx)()
}

// ConnectBackend checks the backend's health endpoint and remembers it for
// the following steps.
func (s *Session) ConnectBackend(ctx context.Context, baseURL string) error {
	p, err := s.PrepareBackend(baseURL)
	return run(ctx, p, err)
}

func (s *Session) PrepareBackend(baseURL string) (*Pending, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	n := s.attempt(StepBackend)
	baseURL = strings.TrimSpace(baseURL)
	s.backend = BackendState{URL: baseURL}
	s.service = nil

	if baseURL == "" {
		return nil, &FormError{Messages: []string{"Please enter a backend URL"}}
	}
	svc, err := s.dial(baseURL)
	if err != nil {
		return nil, err
	}
	return s.pending(StepBackend, n, func(ctx context.Context) func() error {
		err := svc.Health(ctx)
		return func() error {
			if err != nil {
				s.log.Warn().Err(err).Str("url", baseURL).Msg("backend health check failed")
				return fmt.Errorf("failed to connect to backend: %w", err)
			}
			s.service = svc
			s.backend.IsConnected = true
			s.log.Info().Str("url", baseURL).Msg("backend connected")
			return nil
		}
	}), nil
}

// ValidMongoURI reports whether uri uses a MongoDB connection scheme.
func ValidMongoURI(uri string) bool {
	return strings.HasPrefix(uri, "mongodb://") || strings.HasPrefix(uri, "mongodb+srv://")
}

func (s *Session) TestDatabase(ctx context.Context, uri string) error {
	p, err := s.PrepareDatabase(uri)
	return run(ctx, p, err)
}

func (s *Session) PrepareDatabase(uri string) (*Pending, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	n := s.attempt(StepDatabase)
	uri = strings.TrimSpace(uri)
	s.database = DatabaseState{URI: uri}

	if !ValidMongoURI(uri) {
		return nil, &FormError{Messages: []string{"Database URI must start with mongodb:// or mongodb+srv://"}}
	}
	svc := s.service
	if svc == nil {
		return nil, ErrNotConnected
	}
	return s.pending(StepDatabase, n, func(ctx context.Context) func() error {
		err := svc.TestDatabase(ctx, uri)
		return func() error {
			if err != nil {
				return fmt.Errorf("failed to test connection: %w", err)
			}
			s.database.IsConnected = true
			s.log.Info().Msg("database connection verified")
			return nil
		}
	}), nil
}

// AdminForm is the admin account step input.
type AdminForm struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"eqfield=Password"`
}

func (f AdminForm) validate() error {
	err := formValidator.Struct(f)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	var msgs []string
	for _, fe := range verrs {
		switch fe.Field() {
		case "Email":
			msgs = append(msgs, "A valid email address is required")
		case "Password":
			msgs = append(msgs, "Password must be at least 8 characters")
		case "ConfirmPassword":
			msgs = append(msgs, "Passwords do not match")
		}
	}
	return &FormError{Messages: msgs}
}

func (s *Session) CreateAdmin(ctx context.Context, form AdminForm) error {
	p, err := s.PrepareAdmin(form)
	return run(ctx, p, err)
}

func (s *Session) PrepareAdmin(form AdminForm) (*Pending, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	n := s.attempt(StepAdmin)
	form.Email = strings.TrimSpace(form.Email)
	s.admin = AdminState{Email: form.Email}

	if err := form.validate(); err != nil {
		return nil, err
	}
	svc := s.service
	if svc == nil {
		return nil, ErrNotConnected
	}
	return s.pending(StepAdmin, n, func(ctx context.Context) func() error {
		err := svc.CreateAdmin(ctx, form.Email, form.Password)
		return func() error {
			if err != nil {
				return fmt.Errorf("failed to create admin account: %w", err)
			}
			s.admin.IsCreated = true
			s.log.Info().Str("email", form.Email).Msg("admin account created")
			return nil
		}
	}), nil
}

// InstallSampleData records the user's choice and, when install is true,
// seeds the catalog.
func (s *Session) InstallSampleData(ctx context.Context, install bool) error {
	p, err := s.PrepareSampleData(install)
	return run(ctx, p, err)
}

func (s *Session) PrepareSampleData(install bool) (*Pending, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	n := s.attempt(StepSampleData)
	s.sampleData = SampleDataState{Install: install}
	if !install {
		return s.pending(StepSampleData, n, func(context.Context) func() error {
			return func() error { return nil }
		}), nil
	}
	svc := s.service
	if svc == nil {
		s.sampleData.Error = ErrNotConnected.Error()
		return nil, ErrNotConnected
	}
	return s.pending(StepSampleData, n, func(ctx context.Context) func() error {
		count, err := svc.InstallSampleData(ctx)
		return func() error {
			if err != nil {
				s.sampleData.Error = err.Error()
				return fmt.Errorf("failed to install sample data: %w", err)
			}
			s.sampleData.IsInstalled = true
			s.sampleData.ProductsCreated = count
			s.log.Info().Int("products", count).Msg("sample data installed")
			return nil
		}
	}), nil
}

func (s *Session) SelectPlatform(c platforms.Category, id string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.store.SelectPlatform(c, id)
}

// Authenticate resolves credentials for the selected platform of c through
// a. A failed attempt leaves the stored result untouched.
func (s *Session) Authenticate(ctx context.Context, c platforms.Category, a Authenticator) error {
	if err := s.guard(); err != nil {
		return err
	}
	d, err := s.store.Descriptor(c)
	if err != nil {
		return err
	}
	res, err := a.Authenticate(ctx, d)
	if err != nil {
		s.log.Info().Err(err).Str("platform", d.ID).Msg("authentication failed")
		return err
	}
	return s.store.SetAuthResult(c, res)
}

func (s *Session) UpdateBuildSettings(c platforms.Category, edit func(*deployment.BuildSettings)) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.store.UpdateBuildSettings(c, edit)
}

func (s *Session) SetEnvironmentVar(c platforms.Category, key, value string) error {
	if err := s.guard(); err != nil {
		return err
	}
	return s.store.SetEnvironmentVar(c, key, value)
}

package deployment

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

var (
	ErrUnknownCategory = errors.New("unknown deployment category")
	ErrNoPlatform      = errors.New("no platform selected")
)

// Observer is told about every recomputed validation result.
type Observer func(c platforms.Category, platformID string, res ValidationResult)

// Store holds the frontend and backend configurations of one wizard session.
// It is owned by a single flow and is not safe for concurrent use.
type Store struct {
	registry *platforms.Registry
	configs  map[platforms.Category]*Configuration
	observe  Observer
	log      zerolog.Logger
}

type StoreOption func(*Store)

func WithObserver(fn Observer) StoreOption { return func(s *Store) { s.observe = fn } }

func WithLogger(l zerolog.Logger) StoreOption { return func(s *Store) { s.log = l } }

func NewStore(reg *platforms.Registry, opts ...StoreOption) *Store {
	s := &Store{
		registry: reg,
		configs:  map[platforms.Category]*Configuration{},
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, c := range platforms.Categories {
		s.configs[c] = &Configuration{
			Category:      c,
			BuildSettings: BuildSettings{EnvironmentVars: map[string]string{}},
		}
		s.recompute(c)
	}
	return s
}

// Registry returns the catalog the store selects from.
func (s *Store) Registry() *platforms.Registry {
	return s.registry
}

// Configuration returns a copy of the configuration for c.
func (s *Store) Configuration(c platforms.Category) (Configuration, error) {
	cfg, err := s.get(c)
	if err != nil {
		return Configuration{}, err
	}
	return cfg.clone(), nil
}

// Descriptor returns the descriptor of the selected platform.
func (s *Store) Descriptor(c platforms.Category) (platforms.Descriptor, error) {
	cfg, err := s.get(c)
	if err != nil {
		return platforms.Descriptor{}, err
	}
	if cfg.PlatformID == "" {
		return platforms.Descriptor{}, fmt.Errorf("%s: %w", c, ErrNoPlatform)
	}
	return s.registry.Get(c, cfg.PlatformID)
}

// Valid reports whether both configurations currently validate.
func (s *Store) Valid() bool {
	for _, c := range platforms.Categories {
		if !s.configs[c].validation.IsValid {
			return false
		}
	}
	return true
}

// SelectPlatform points c at a registry entry. Changing the platform drops
// any auth result obtained for the previous one.
func (s *Store) SelectPlatform(c platforms.Category, id string) error {
	cfg, err := s.get(c)
	if err != nil {
		return err
	}
	if _, err := s.registry.Get(c, id); err != nil {
		return err
	}
	if cfg.PlatformID != id {
		cfg.AuthResult = nil
	}
	cfg.PlatformID = id
	s.log.Debug().Str("category", string(c)).Str("platform", id).Msg("platform selected")
	s.recompute(c)
	return nil
}

// SetAuthResult stores the outcome of an orchestrator round trip.
func (s *Store) SetAuthResult(c platforms.Category, r auth.Result) error {
	cfg, err := s.get(c)
	if err != nil {
		return err
	}
	if cfg.PlatformID == "" {
		return fmt.Errorf("%s: %w", c, ErrNoPlatform)
	}
	cp := r.Clone()
	cfg.AuthResult = &cp
	s.recompute(c)
	return nil
}

func (s *Store) ClearAuth(c platforms.Category) error {
	cfg, err := s.get(c)
	if err != nil {
		return err
	}
	cfg.AuthResult = nil
	s.recompute(c)
	return nil
}

// UpdateBuildSettings applies edit to the build settings of c.
func (s *Store) UpdateBuildSettings(c platforms.Category, edit func(*BuildSettings)) error {
	cfg, err := s.get(c)
	if err != nil {
		return err
	}
	b := cfg.BuildSettings.clone()
	edit(&b)
	if b.EnvironmentVars == nil {
		b.EnvironmentVars = map[string]string{}
	}
	cfg.BuildSettings = b
	s.recompute(c)
	return nil
}

// SetEnvironmentVar sets or, with an empty value, removes one variable.
func (s *Store) SetEnvironmentVar(c platforms.Category, key, value string) error {
	return s.UpdateBuildSettings(c, func(b *BuildSettings) {
		if value == "" {
			delete(b.EnvironmentVars, key)
			return
		}
		b.EnvironmentVars[key] = value
	})
}

func (s *Store) get(c platforms.Category) (*Configuration, error) {
	cfg, ok := s.configs[c]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, c)
	}
	return cfg, nil
}

func (s *Store) recompute(c platforms.Category) {
	cfg := s.configs[c]
	var d platforms.Descriptor
	if cfg.PlatformID != "" {
		// SelectPlatform only accepts ids present in the registry.
		d, _ = s.registry.Get(c, cfg.PlatformID)
	}
	cfg.validation = Validate(*cfg, d)
	if s.observe != nil {
		s.observe(c, cfg.PlatformID, cfg.validation)
	}
}

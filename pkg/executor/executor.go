package executor

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

// LogFunc receives user-facing progress lines.
type LogFunc func(format string, args ...interface{})

// Request is everything one deploy attempt needs.
type Request struct {
	Config      deployment.Configuration
	Descriptor  platforms.Descriptor
	ArtifactDir string
	Logf        LogFunc
}

func (r Request) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Executor ships a validated configuration to its platform.
type Executor interface {
	Deploy(ctx context.Context, req Request) error
}

// Dispatcher routes a request to the executor registered for its platform id.
type Dispatcher struct {
	executors map[string]Executor
	log       zerolog.Logger
	done      func(platformID string, err error)
}

type Option func(*Dispatcher)

func WithLogger(l zerolog.Logger) Option { return func(d *Dispatcher) { d.log = l } }

// WithResultHook is called once per dispatched attempt with its outcome.
func WithResultHook(fn func(platformID string, err error)) Option {
	return func(d *Dispatcher) { d.done = fn }
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		executors: map[string]Executor{},
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Default returns a dispatcher with every built-in platform registered.
func Default(opts ...Option) *Dispatcher {
	d := NewDispatcher(opts...)
	d.Register("apache", NewApache(nil))
	for _, id := range []string{"github-pages", "vercel", "netlify", "render", "railway"} {
		d.Register(id, unimplemented{})
	}
	return d
}

func (d *Dispatcher) Register(platformID string, e Executor) {
	d.executors[platformID] = e
}

// Platforms returns the registered ids in sorted order.
func (d *Dispatcher) Platforms() []string {
	ids := make([]string, 0, len(d.executors))
	for id := range d.executors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Deploy re-validates the configuration, checks the artifact against the
// platform limits and hands the request to the matching executor.
func (d *Dispatcher) Deploy(ctx context.Context, req Request) (err error) {
	id := req.Config.PlatformID
	defer func() {
		if d.done != nil {
			d.done(id, err)
		}
	}()

	if id == "" {
		return &DeploymentError{Kind: KindConfiguration, Err: deployment.ErrNoPlatform}
	}
	if req.Descriptor.ID != id {
		return &DeploymentError{Platform: id, Kind: KindConfiguration,
			Err: fmt.Errorf("descriptor %q does not match configured platform", req.Descriptor.ID)}
	}
	e, ok := d.executors[id]
	if !ok {
		return &DeploymentError{Platform: id, Kind: KindConfiguration, Err: fmt.Errorf("no executor registered for %q", id)}
	}

	if res := deployment.Validate(req.Config, req.Descriptor); !res.IsValid {
		return &DeploymentError{Platform: id, Kind: KindConfiguration, Err: res.Err()}
	}

	if req.ArtifactDir == "" {
		req.ArtifactDir = req.Config.BuildSettings.OutputDir
	}
	if req.ArtifactDir == "" {
		req.ArtifactDir = "build"
	}
	size, err := artifactSize(req.ArtifactDir)
	if err != nil {
		return &DeploymentError{Platform: id, Kind: KindConfiguration, Err: err}
	}
	limits := req.Descriptor.Requirements
	if limits.MaximumDeployBytes > 0 && size > limits.MaximumDeployBytes {
		return &DeploymentError{Platform: id, Kind: KindConfiguration,
			Err: fmt.Errorf("artifact is %d bytes, %s accepts at most %d", size, req.Descriptor.Name, limits.MaximumDeployBytes)}
	}

	if limits.MaximumBuildDurationSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(limits.MaximumBuildDurationSeconds)*time.Second)
		defer cancel()
	}

	log := d.log.With().Str("platform", id).Str("category", string(req.Config.Category)).Logger()
	log.Info().Str("artifacts", req.ArtifactDir).Int64("bytes", size).Msg("deploy started")
	start := time.Now()

	err = e.Deploy(ctx, req)
	if err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(start)).Msg("deploy failed")
		return err
	}
	log.Info().Dur("elapsed", time.Since(start)).Msg("deploy finished")
	return nil
}

func artifactSize(dir string) (int64, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return 0, fmt.Errorf("artifact directory: %w", err)
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("artifact directory: %s is not a directory", dir)
	}
	var total int64
	err = filepath.WalkDir(dir, func(_ string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.Type().IsRegular() {
			fi, err := entry.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

type unimplemented struct{}

func (unimplemented) Deploy(ctx context.Context, req Request) error {
	req.logf("⚠️  Automated deployment to %s is not available yet\n", req.Descriptor.Name)
	if req.Descriptor.Docs != "" {
		req.logf("ℹ️  Follow %s to deploy manually\n", req.Descriptor.Docs)
	}
	return &DeploymentError{Platform: req.Descriptor.ID, Kind: KindConfiguration, Err: ErrNotImplemented}
}

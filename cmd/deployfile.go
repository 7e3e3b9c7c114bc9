package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

// deployFile is the non-interactive form of the deployment step:
//
//	frontend:
//	  platform: apache
//	  credentials: {host: ftp.example.com, username: deploy, password: ${FTP_PASSWORD}}
//	  build: {outputDir: build}
//	backend:
//	  platform: render
//	  token: ${RENDER_TOKEN}
type deployFile struct {
	Frontend *targetSpec `yaml:"frontend"`
	Backend  *targetSpec `yaml:"backend"`
}

type targetSpec struct {
	Platform    string                   `yaml:"platform"`
	Token       string                   `yaml:"token,omitempty"`
	Credentials map[string]string        `yaml:"credentials,omitempty"`
	Build       deployment.BuildSettings `yaml:"build,omitempty"`
}

func (f *deployFile) target(c platforms.Category) *targetSpec {
	if c == platforms.Frontend {
		return f.Frontend
	}
	return f.Backend
}

// categories lists the categories the file configures.
func (f *deployFile) categories() []platforms.Category {
	var out []platforms.Category
	for _, c := range platforms.Categories {
		if f.target(c) != nil {
			out = append(out, c)
		}
	}
	return out
}

func loadDeployFile(path string) (*deployFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := parseDeployFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// parseDeployFile decodes strictly and expands ${VAR} references in every
// string value.
func parseDeployFile(r io.Reader) (*deployFile, error) {
	var f deployFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if f.Frontend == nil && f.Backend == nil {
		return nil, errors.New("neither frontend nor backend is configured")
	}
	for _, c := range f.categories() {
		f.target(c).expand()
	}
	return &f, nil
}

func (t *targetSpec) expand() {
	t.Platform = os.ExpandEnv(t.Platform)
	t.Token = os.ExpandEnv(t.Token)
	for k, v := range t.Credentials {
		t.Credentials[k] = os.ExpandEnv(v)
	}
	b := &t.Build
	for _, s := range []*string{&b.Branch, &b.BuildCommand, &b.OutputDir, &b.FrameworkID, &b.RuntimeVersion, &b.CustomDomain} {
		*s = os.ExpandEnv(*s)
	}
	for k, v := range b.EnvironmentVars {
		b.EnvironmentVars[k] = os.ExpandEnv(v)
	}
}

// buildStore applies the file to a fresh store. Credentials are checked with
// the orchestrator, answering its prompts from the file; an OAuth platform
// needs a token obtained beforehand.
func buildStore(ctx context.Context, f *deployFile, reg *platforms.Registry, orch *auth.Orchestrator, log zerolog.Logger) (*deployment.Store, error) {
	store := deployment.NewStore(reg, deployment.WithLogger(log))
	for _, c := range f.categories() {
		spec := f.target(c)
		if err := store.SelectPlatform(c, spec.Platform); err != nil {
			return nil, fmt.Errorf("%s: %w", c, err)
		}
		build := spec.Build
		if err := store.UpdateBuildSettings(c, func(b *deployment.BuildSettings) { *b = build }); err != nil {
			return nil, err
		}

		if spec.Token == "" && spec.Credentials == nil {
			continue
		}
		d, err := store.Descriptor(c)
		if err != nil {
			return nil, err
		}
		var res auth.Result
		if d.Auth.Type == platforms.AuthOAuth {
			res, err = orch.Verify(ctx, d, spec.Token)
		} else {
			res, err = orch.UsingPrompter(auth.StaticPrompter{Token: spec.Token, Credentials: spec.Credentials}).Authenticate(ctx, d)
		}
		if err != nil {
			return nil, err
		}
		if err := store.SetAuthResult(c, res); err != nil {
			return nil, err
		}
	}
	return store, nil
}

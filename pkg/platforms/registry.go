package platforms

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SupportedSchema is the range of registry schema versions this build reads.
const SupportedSchema = "^1.0"

// ErrPlatformNotFound is returned by Get for unknown ids.
var ErrPlatformNotFound = errors.New("platform not found")

//go:embed platforms.yaml
var defaultRegistryYAML []byte

var platformIDPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

type registryFile struct {
	SchemaVersion string       `yaml:"schemaVersion"`
	Frontend      []Descriptor `yaml:"frontend"`
	Backend       []Descriptor `yaml:"backend"`
}

// Registry is the read-only catalog of deployment targets.
type Registry struct {
	version    *semver.Version
	categories map[Category][]Descriptor
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry compiled into the binary.
func Default() *Registry {
	defaultOnce.Do(func() {
		reg, err := Load(bytes.NewReader(defaultRegistryYAML))
		if err != nil {
			// The embedded table is part of the build; a broken one is a programming error.
			panic(fmt.Sprintf("platforms: embedded registry: %v", err))
		}
		defaultRegistry = reg
	})
	return defaultRegistry
}

// LoadFile reads a registry from a YAML file on disk.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("platforms: open %s: %w", path, err)
	}
	defer f.Close()
	reg, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("platforms: %s: %w", path, err)
	}
	return reg, nil
}

// Load decodes and validates a registry document.
func Load(r io.Reader) (*Registry, error) {
	var doc registryFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}

	version, err := semver.NewVersion(doc.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid schemaVersion %q: %w", doc.SchemaVersion, err)
	}
	constraint, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(version) {
		return nil, fmt.Errorf("schemaVersion %s is not supported (want %s)", version, SupportedSchema)
	}

	reg := &Registry{
		version:    version,
		categories: map[Category][]Descriptor{},
	}
	validate := validator.New()
	for _, c := range Categories {
		list := doc.Frontend
		if c == Backend {
			list = doc.Backend
		}
		seen := map[string]bool{}
		for i := range list {
			d := list[i]
			d.Category = c
			if err := checkDescriptor(validate, d); err != nil {
				return nil, fmt.Errorf("%s[%d] %q: %w", c, i, d.ID, err)
			}
			if seen[d.ID] {
				return nil, fmt.Errorf("%s: duplicate platform id %q", c, d.ID)
			}
			seen[d.ID] = true
			reg.categories[c] = append(reg.categories[c], d)
		}
	}
	return reg, nil
}

func checkDescriptor(validate *validator.Validate, d Descriptor) error {
	if err := validate.Struct(d); err != nil {
		return err
	}
	if !platformIDPattern.MatchString(d.ID) {
		return fmt.Errorf("id must be lowercase letters, digits and hyphens")
	}
	if err := d.Auth.check(); err != nil {
		return err
	}
	if v := d.Requirements.MinimumRuntimeVersion; v != "" {
		if _, err := semver.NewVersion(v); err != nil {
			return fmt.Errorf("minimumRuntimeVersion %q: %w", v, err)
		}
	}
	return nil
}

// Version returns the schema version of the loaded document.
func (r *Registry) Version() string {
	return r.version.String()
}

// List returns the descriptors of a category in declaration order.
func (r *Registry) List(c Category) []Descriptor {
	src := r.categories[c]
	out := make([]Descriptor, 0, len(src))
	for _, d := range src {
		out = append(out, d.clone())
	}
	return out
}

// Get looks up a descriptor by category and id.
func (r *Registry) Get(c Category, id string) (Descriptor, error) {
	for _, d := range r.categories[c] {
		if d.ID == id {
			return d.clone(), nil
		}
	}
	return Descriptor{}, fmt.Errorf("%w: %s/%s", ErrPlatformNotFound, c, id)
}

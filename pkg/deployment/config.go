package deployment

import (
	"encoding/json"
	"strings"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

type BuildSettings struct {
	Branch          string            `json:"branch,omitempty" yaml:"branch,omitempty"`
	BuildCommand    string            `json:"buildCommand,omitempty" yaml:"buildCommand,omitempty"`
	OutputDir       string            `json:"outputDir,omitempty" yaml:"outputDir,omitempty"`
	FrameworkID     string            `json:"frameworkId,omitempty" yaml:"frameworkId,omitempty"`
	RuntimeVersion  string            `json:"runtimeVersion,omitempty" yaml:"runtimeVersion,omitempty"`
	CustomDomain    string            `json:"customDomain,omitempty" yaml:"customDomain,omitempty"`
	EnvironmentVars map[string]string `json:"environmentVars" yaml:"environmentVars,omitempty"`
}

func (b BuildSettings) clone() BuildSettings {
	out := b
	out.EnvironmentVars = make(map[string]string, len(b.EnvironmentVars))
	for k, v := range b.EnvironmentVars {
		out.EnvironmentVars[k] = v
	}
	return out
}

// ValidationResult is derived from a Configuration and never edited by hand.
type ValidationResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Err returns a *ValidationError when the result carries errors.
func (r ValidationResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &ValidationError{Messages: append([]string(nil), r.Errors...)}
}

// ValidationError lists every failed rule of one validation pass.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "invalid deployment configuration: " + strings.Join(e.Messages, "; ")
}

// Configuration is the partially filled deployment target of one category.
type Configuration struct {
	Category      platforms.Category
	PlatformID    string
	AuthResult    *auth.Result
	BuildSettings BuildSettings

	validation ValidationResult
}

// Validation returns the result computed for the current state.
func (c Configuration) Validation() ValidationResult {
	return c.validation
}

func (c Configuration) clone() Configuration {
	out := c
	if c.AuthResult != nil {
		r := c.AuthResult.Clone()
		out.AuthResult = &r
	}
	out.BuildSettings = c.BuildSettings.clone()
	out.validation.Errors = append([]string(nil), c.validation.Errors...)
	out.validation.Warnings = append([]string(nil), c.validation.Warnings...)
	return out
}

func (c Configuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Category      platforms.Category `json:"category"`
		PlatformID    string             `json:"platformId,omitempty"`
		AuthResult    *auth.Result       `json:"authResult,omitempty"`
		BuildSettings BuildSettings      `json:"buildSettings"`
		Validation    ValidationResult   `json:"validation"`
	}{c.Category, c.PlatformID, c.AuthResult, c.BuildSettings, c.validation})
}

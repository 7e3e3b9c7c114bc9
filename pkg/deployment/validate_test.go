package deployment

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

func tokenResult(t *testing.T, token string) *auth.Result {
	t.Helper()
	res, err := auth.NewOrchestrator().Verify(context.Background(), platforms.Descriptor{ID: "test"}, token)
	require.NoError(t, err)
	return &res
}

func ftpResult(t *testing.T, creds map[string]string) *auth.Result {
	t.Helper()
	o := auth.NewOrchestrator(auth.WithPrompter(auth.StaticPrompter{Credentials: creds}))
	res, err := o.Authenticate(context.Background(), platforms.Descriptor{ID: "apache", Auth: platforms.Auth{Type: platforms.AuthFTP}})
	require.NoError(t, err)
	return &res
}

func mustGet(t *testing.T, c platforms.Category, id string) platforms.Descriptor {
	t.Helper()
	d, err := platforms.Default().Get(c, id)
	require.NoError(t, err)
	return d
}

func hasErrorContaining(res ValidationResult, substr string) bool {
	for _, e := range res.Errors {
		if strings.Contains(e, substr) {
			return true
		}
	}
	return false
}

func TestValidate_OAuthTokenRule(t *testing.T) {
	for _, c := range platforms.Categories {
		for _, d := range platforms.Default().List(c) {
			if d.Auth.Type != platforms.AuthOAuth {
				continue
			}
			t.Run(string(c)+"/"+d.ID, func(t *testing.T) {
				cfg := Configuration{Category: c, PlatformID: d.ID}
				res := Validate(cfg, d)
				assert.False(t, res.IsValid)
				assert.Contains(t, res.Errors, d.Name+" token is required")

				cfg.AuthResult = tokenResult(t, "tok")
				res = Validate(cfg, d)
				assert.False(t, hasErrorContaining(res, "token is required"))
				assert.False(t, hasErrorContaining(res, "authentication has not been completed"))
			})
		}
	}
}

func TestValidate_TokenWithoutRoundTrip(t *testing.T) {
	d := mustGet(t, platforms.Frontend, "github-pages")
	cfg := Configuration{PlatformID: d.ID, AuthResult: &auth.Result{Token: "pasted"}}
	res := Validate(cfg, d)
	assert.Contains(t, res.Errors, "GitHub Pages authentication has not been completed")
}

func TestValidate_RequiredEnvironmentVars(t *testing.T) {
	d := mustGet(t, platforms.Backend, "render")
	base := Configuration{PlatformID: d.ID, AuthResult: tokenResult(t, "rnd")}

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{name: "none set", env: nil, wantErr: "Missing required environment variables: NODE_ENV, PORT"},
		{name: "one missing", env: map[string]string{"NODE_ENV": "production"}, wantErr: "Missing required environment variables: PORT"},
		{name: "empty counts as missing", env: map[string]string{"NODE_ENV": "", "PORT": "8080"}, wantErr: "Missing required environment variables: NODE_ENV"},
		{name: "whitespace is a value", env: map[string]string{"NODE_ENV": " ", "PORT": "8080"}},
		{name: "all present", env: map[string]string{"NODE_ENV": "production", "PORT": "8080"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			cfg.BuildSettings.EnvironmentVars = tt.env
			first := Validate(cfg, d)
			second := Validate(cfg, d)
			assert.Equal(t, first, second)

			var envErrors []string
			for _, e := range first.Errors {
				if strings.HasPrefix(e, "Missing required environment variables") {
					envErrors = append(envErrors, e)
				}
			}
			if tt.wantErr == "" {
				assert.Empty(t, envErrors)
				assert.True(t, first.IsValid)
				return
			}
			assert.Equal(t, []string{tt.wantErr}, envErrors)
		})
	}
}

func TestValidDomain(t *testing.T) {
	tests := []struct {
		domain string
		want   bool
	}{
		{"example.com", true},
		{"my-shop.example.co.uk", true},
		{"Shop.Example.COM", true},
		{"-bad.com", false},
		{"bad-.com", false},
		{"no spaces.com", false},
		{"localhost", false},
		{strings.Repeat("a", 64) + ".com", false},
		{strings.Repeat("a", 63) + ".com", true},
	}
	for _, tt := range tests {
		t.Run(tt.domain, func(t *testing.T) {
			assert.Equal(t, tt.want, ValidDomain(tt.domain))
		})
	}
}

func TestRuntimeVersionSatisfies(t *testing.T) {
	tests := []struct {
		version string
		want    bool
		wantErr bool
	}{
		{version: "14.0.0", want: true},
		{version: "13.9.9", want: false},
		{version: "16.2.0", want: true},
		{version: "v18.17.1", want: true},
		{version: "14", want: true},
		{version: "14.0.0-rc.1", want: true},
		{version: "node-lts", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			got, err := RuntimeVersionSatisfies(tt.version, "14.0.0")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_BuildSettingRules(t *testing.T) {
	d := mustGet(t, platforms.Frontend, "vercel")
	tok := tokenResult(t, "tok")

	tests := []struct {
		name    string
		build   BuildSettings
		wantErr []string
	}{
		{
			name:  "runtime unset is not an error",
			build: BuildSettings{},
		},
		{
			name:    "runtime below minimum",
			build:   BuildSettings{RuntimeVersion: "13.9.9"},
			wantErr: []string{"Runtime version 14.0.0 or higher is required (configured 13.9.9)"},
		},
		{
			name:    "unparseable runtime",
			build:   BuildSettings{RuntimeVersion: "latest"},
			wantErr: []string{`Runtime version "latest" is not a valid version`},
		},
		{
			name:    "unsupported framework",
			build:   BuildSettings{FrameworkID: "svelte"},
			wantErr: []string{"Framework svelte is not supported. Supported frameworks: next.js, react, vue, nuxt, angular"},
		},
		{
			name:    "bad domain",
			build:   BuildSettings{CustomDomain: "no spaces.com"},
			wantErr: []string{"Invalid custom domain format"},
		},
		{
			name:    "errors accumulate",
			build:   BuildSettings{RuntimeVersion: "12.0.0", FrameworkID: "svelte", CustomDomain: "-bad.com"},
			wantErr: []string{
				"Runtime version 14.0.0 or higher is required (configured 12.0.0)",
				"Framework svelte is not supported. Supported frameworks: next.js, react, vue, nuxt, angular",
				"Invalid custom domain format",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Validate(Configuration{PlatformID: d.ID, AuthResult: tok, BuildSettings: tt.build}, d)
			if len(tt.wantErr) == 0 {
				assert.True(t, res.IsValid)
				assert.Empty(t, res.Errors)
				return
			}
			assert.False(t, res.IsValid)
			assert.Equal(t, tt.wantErr, res.Errors)
		})
	}
}

func TestValidate_Warnings(t *testing.T) {
	d := mustGet(t, platforms.Frontend, "netlify")
	cfg := Configuration{PlatformID: d.ID, AuthResult: tokenResult(t, "tok")}

	res := Validate(cfg, d)
	assert.True(t, res.IsValid)
	assert.Equal(t, []string{warnBuildCommand, warnOutputDir}, res.Warnings)

	cfg.BuildSettings = BuildSettings{BuildCommand: "npm run build", OutputDir: "build"}
	res = Validate(cfg, d)
	assert.Empty(t, res.Warnings)
}

func TestValidate_FTPCredentials(t *testing.T) {
	d := mustGet(t, platforms.Backend, "apache")

	res := Validate(Configuration{PlatformID: d.ID}, d)
	assert.Equal(t, []string{"Missing required credentials: Host, Username, Password"}, res.Errors)

	res = Validate(Configuration{PlatformID: d.ID, AuthResult: ftpResult(t, map[string]string{"host": "ftp.example.com", "username": "u"})}, d)
	assert.Equal(t, []string{"Missing required credentials: Password"}, res.Errors)

	res = Validate(Configuration{PlatformID: d.ID, AuthResult: ftpResult(t, map[string]string{"host": "ftp.example.com", "username": "u", "password": "p"})}, d)
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
}

func TestValidate_NoPlatform(t *testing.T) {
	res := Validate(Configuration{}, platforms.Descriptor{})
	assert.False(t, res.IsValid)
	assert.Equal(t, []string{"No platform selected"}, res.Errors)

	var verr *ValidationError
	require.ErrorAs(t, res.Err(), &verr)
	assert.Equal(t, []string{"No platform selected"}, verr.Messages)
}

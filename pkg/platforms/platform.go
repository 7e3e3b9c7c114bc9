package platforms

import (
	"fmt"
	"strings"
)

// Category groups deployment targets by the half of the store they host.
type Category string

const (
	Frontend Category = "frontend"
	Backend  Category = "backend"
)

// Categories lists the categories in wizard order.
var Categories = []Category{Frontend, Backend}

// ParseCategory converts user input into a Category.
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case Frontend:
		return Frontend, nil
	case Backend:
		return Backend, nil
	}
	return "", fmt.Errorf("unknown category: %s (expected frontend or backend)", s)
}

type AuthType string

const (
	AuthOAuth       AuthType = "oauth"
	AuthAPIToken    AuthType = "api-token"
	AuthCredentials AuthType = "credentials"
	AuthFTP         AuthType = "ftp"
)

// Field is one entry of a credential form.
type Field struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Label    string `yaml:"label" json:"label" validate:"required"`
	Secret   bool   `yaml:"secret,omitempty" json:"secret"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	Default  string `yaml:"default,omitempty" json:"default,omitempty"`
}

// FTPFields is the fixed credential form for ftp targets. host, username and
// password are mandatory; the rest fall back to their defaults.
var FTPFields = []Field{
	{Name: "host", Label: "Host"},
	{Name: "username", Label: "Username"},
	{Name: "password", Label: "Password", Secret: true},
	{Name: "path", Label: "Remote path", Optional: true, Default: "/public_html"},
	{Name: "secure", Label: "Use FTPS (true/false)", Optional: true, Default: "false"},
	{Name: "port", Label: "Port", Optional: true},
	{Name: "protocol", Label: "Protocol (ftp/sftp)", Optional: true, Default: "ftp"},
}

// Auth is a tagged variant: Type decides which of the other fields may be set.
type Auth struct {
	Type             AuthType `yaml:"type" json:"type" validate:"required,oneof=oauth api-token credentials ftp"`
	Provider         string   `yaml:"provider,omitempty" json:"provider,omitempty"`
	Scopes           []string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	AuthorizationURL string   `yaml:"authorizationUrl,omitempty" json:"authorizationUrl,omitempty" validate:"omitempty,url"`
	TokenURL         string   `yaml:"tokenUrl,omitempty" json:"tokenUrl,omitempty" validate:"omitempty,url"`
	ValidationURL    string   `yaml:"validationUrl,omitempty" json:"validationUrl,omitempty" validate:"omitempty,url"`
	SetupURL         string   `yaml:"setupUrl,omitempty" json:"setupUrl,omitempty" validate:"omitempty,url"`
	Fields           []Field  `yaml:"fields,omitempty" json:"fields,omitempty" validate:"dive"`
}

// UsesToken reports whether the auth type resolves to a bearer token.
func (a Auth) UsesToken() bool {
	return a.Type == AuthOAuth || a.Type == AuthAPIToken
}

// CredentialFields returns the form to prompt for, or nil for token based auth.
func (a Auth) CredentialFields() []Field {
	switch a.Type {
	case AuthCredentials:
		return append([]Field(nil), a.Fields...)
	case AuthFTP:
		return append([]Field(nil), FTPFields...)
	}
	return nil
}

// RequiredFields returns the credential fields that must be filled in.
func (a Auth) RequiredFields() []Field {
	var out []Field
	for _, f := range a.CredentialFields() {
		if !f.Optional {
			out = append(out, f)
		}
	}
	return out
}

func (a Auth) check() error {
	var extraneous []string
	mark := func(set bool, name string) {
		if set {
			extraneous = append(extraneous, name)
		}
	}

	switch a.Type {
	case AuthOAuth:
		if a.Provider == "" {
			return fmt.Errorf("oauth auth requires provider")
		}
		if a.AuthorizationURL == "" {
			return fmt.Errorf("oauth auth requires authorizationUrl")
		}
		mark(a.SetupURL != "", "setupUrl")
		mark(len(a.Fields) > 0, "fields")
	case AuthAPIToken:
		mark(a.Provider != "", "provider")
		mark(len(a.Scopes) > 0, "scopes")
		mark(a.AuthorizationURL != "", "authorizationUrl")
		mark(a.TokenURL != "", "tokenUrl")
		mark(len(a.Fields) > 0, "fields")
	case AuthCredentials:
		if len(a.Fields) == 0 {
			return fmt.Errorf("credentials auth requires at least one field")
		}
		seen := map[string]bool{}
		for _, f := range a.Fields {
			if seen[f.Name] {
				return fmt.Errorf("duplicate credential field %q", f.Name)
			}
			seen[f.Name] = true
		}
		mark(a.Provider != "", "provider")
		mark(len(a.Scopes) > 0, "scopes")
		mark(a.AuthorizationURL != "", "authorizationUrl")
		mark(a.TokenURL != "", "tokenUrl")
		mark(a.ValidationURL != "", "validationUrl")
		mark(a.SetupURL != "", "setupUrl")
	case AuthFTP:
		mark(a.Provider != "", "provider")
		mark(len(a.Scopes) > 0, "scopes")
		mark(a.AuthorizationURL != "", "authorizationUrl")
		mark(a.TokenURL != "", "tokenUrl")
		mark(a.ValidationURL != "", "validationUrl")
		mark(a.SetupURL != "", "setupUrl")
		mark(len(a.Fields) > 0, "fields")
	default:
		return fmt.Errorf("unknown auth type %q", a.Type)
	}

	if len(extraneous) > 0 {
		return fmt.Errorf("%s auth does not accept: %s", a.Type, strings.Join(extraneous, ", "))
	}
	return nil
}

type Requirements struct {
	MinimumRuntimeVersion       string   `yaml:"minimumRuntimeVersion,omitempty" json:"minimumRuntimeVersion,omitempty"`
	SupportedFrameworks         []string `yaml:"supportedFrameworks,omitempty" json:"supportedFrameworks,omitempty"`
	RequiredEnvironmentVars     []string `yaml:"requiredEnvironmentVars,omitempty" json:"requiredEnvironmentVars,omitempty"`
	MaximumBuildDurationSeconds int      `yaml:"maximumBuildDurationSeconds,omitempty" json:"maximumBuildDurationSeconds,omitempty" validate:"gte=0"`
	MaximumDeployBytes          int64    `yaml:"maximumDeployBytes,omitempty" json:"maximumDeployBytes,omitempty" validate:"gte=0"`
}

// SupportsFramework reports whether id is allowed. An empty set allows anything.
func (r Requirements) SupportsFramework(id string) bool {
	if len(r.SupportedFrameworks) == 0 {
		return true
	}
	for _, f := range r.SupportedFrameworks {
		if strings.EqualFold(f, id) {
			return true
		}
	}
	return false
}

type Pricing struct {
	Free []string `yaml:"free,omitempty" json:"free,omitempty"`
	Paid []string `yaml:"paid,omitempty" json:"paid,omitempty"`
}

// Descriptor describes one deployment target.
type Descriptor struct {
	ID           string       `yaml:"id" json:"id" validate:"required"`
	Name         string       `yaml:"name" json:"name" validate:"required"`
	Description  string       `yaml:"description" json:"description"`
	Category     Category     `yaml:"-" json:"category"`
	Features     []string     `yaml:"features,omitempty" json:"features,omitempty"`
	Docs         string       `yaml:"docs,omitempty" json:"docs,omitempty" validate:"omitempty,url"`
	Pricing      *Pricing     `yaml:"pricing,omitempty" json:"pricing,omitempty"`
	Auth         Auth         `yaml:"auth" json:"auth"`
	Requirements Requirements `yaml:"requirements,omitempty" json:"requirements"`
}

func (d Descriptor) clone() Descriptor {
	out := d
	out.Features = append([]string(nil), d.Features...)
	if d.Pricing != nil {
		p := Pricing{
			Free: append([]string(nil), d.Pricing.Free...),
			Paid: append([]string(nil), d.Pricing.Paid...),
		}
		out.Pricing = &p
	}
	out.Auth.Scopes = append([]string(nil), d.Auth.Scopes...)
	out.Auth.Fields = append([]Field(nil), d.Auth.Fields...)
	out.Requirements.SupportedFrameworks = append([]string(nil), d.Requirements.SupportedFrameworks...)
	out.Requirements.RequiredEnvironmentVars = append([]string(nil), d.Requirements.RequiredEnvironmentVars...)
	return out
}

package deployment

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

const (
	warnBuildCommand = "Build command not specified. Default build command will be used."
	warnOutputDir    = "Output directory not specified. Default directory will be used."
	errNoPlatform    = "No platform selected"
	errDomainFormat  = "Invalid custom domain format"
)

var domainPattern = regexp.MustCompile(`(?i)^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z0-9][a-z0-9-]{0,61}[a-z0-9]$`)

// ValidDomain reports whether s is a dotted host name of 1-63 character labels.
func ValidDomain(s string) bool {
	return domainPattern.MatchString(s)
}

// RuntimeVersionSatisfies compares major.minor.patch of version against minimum.
// A leading "v" and missing minor or patch parts are accepted.
func RuntimeVersionSatisfies(version, minimum string) (bool, error) {
	floor, err := semver.NewVersion(minimum)
	if err != nil {
		return false, fmt.Errorf("invalid minimum version %q: %w", minimum, err)
	}
	v, err := semver.NewVersion(strings.TrimSpace(version))
	if err != nil {
		return false, fmt.Errorf("invalid runtime version %q: %w", version, err)
	}
	// Pre-release and build metadata are not part of the comparison.
	core, _ := semver.NewVersion(fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch()))
	return !core.LessThan(floor), nil
}

// Validate checks cfg against the requirements of d. Every rule runs and all
// failures are reported together.
func Validate(cfg Configuration, d platforms.Descriptor) ValidationResult {
	res := ValidationResult{Errors: []string{}, Warnings: []string{}}
	if cfg.PlatformID == "" {
		res.Errors = append(res.Errors, errNoPlatform)
		return res
	}

	b := cfg.BuildSettings
	req := d.Requirements

	if req.MinimumRuntimeVersion != "" && strings.TrimSpace(b.RuntimeVersion) != "" {
		ok, err := RuntimeVersionSatisfies(b.RuntimeVersion, req.MinimumRuntimeVersion)
		switch {
		case err != nil:
			res.Errors = append(res.Errors, fmt.Sprintf("Runtime version %q is not a valid version", b.RuntimeVersion))
		case !ok:
			res.Errors = append(res.Errors, fmt.Sprintf("Runtime version %s or higher is required (configured %s)", req.MinimumRuntimeVersion, b.RuntimeVersion))
		}
	}

	if len(req.SupportedFrameworks) > 0 && b.FrameworkID != "" && !req.SupportsFramework(b.FrameworkID) {
		res.Errors = append(res.Errors, fmt.Sprintf("Framework %s is not supported. Supported frameworks: %s",
			b.FrameworkID, strings.Join(req.SupportedFrameworks, ", ")))
	}

	var missingEnv []string
	for _, key := range req.RequiredEnvironmentVars {
		if b.EnvironmentVars[key] == "" {
			missingEnv = append(missingEnv, key)
		}
	}
	if len(missingEnv) > 0 {
		res.Errors = append(res.Errors, "Missing required environment variables: "+strings.Join(missingEnv, ", "))
	}

	if b.CustomDomain != "" && !ValidDomain(b.CustomDomain) {
		res.Errors = append(res.Errors, errDomainFormat)
	}

	res.Errors = append(res.Errors, authErrors(cfg, d)...)

	if strings.TrimSpace(b.BuildCommand) == "" {
		res.Warnings = append(res.Warnings, warnBuildCommand)
	}
	if strings.TrimSpace(b.OutputDir) == "" {
		res.Warnings = append(res.Warnings, warnOutputDir)
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

func authErrors(cfg Configuration, d platforms.Descriptor) []string {
	r := cfg.AuthResult

	if d.Auth.UsesToken() {
		if r == nil || r.Token == "" {
			return []string{fmt.Sprintf("%s token is required", d.Name)}
		}
		if !r.IsAuthenticated() {
			return []string{fmt.Sprintf("%s authentication has not been completed", d.Name)}
		}
		return nil
	}

	var missing []string
	for _, f := range d.Auth.RequiredFields() {
		if r == nil || strings.TrimSpace(r.Credential(f.Name)) == "" {
			missing = append(missing, f.Label)
		}
	}
	if len(missing) > 0 {
		return []string{"Missing required credentials: " + strings.Join(missing, ", ")}
	}
	if r != nil && !r.IsAuthenticated() {
		return []string{fmt.Sprintf("%s authentication has not been completed", d.Name)}
	}
	return nil
}

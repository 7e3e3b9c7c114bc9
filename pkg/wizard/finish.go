package wizard

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

var platformInstructions = map[string][]string{
	"github-pages": {
		"Enable GitHub Pages in your repository settings",
		`Set the branch to "gh-pages"`,
		"Your site will be available at https://<username>.github.io/<repo-name>",
	},
	"vercel": {
		"Import the repository in the Vercel dashboard",
		"Set the root directory to frontend",
		"Add the environment variables listed in the exported .env file",
	},
	"netlify": {
		`Click "Add new site" > "Import an existing project"`,
		"Choose your GitHub repository",
		`Set build command: "cd frontend && npm install && npm run build"`,
		`Set publish directory: "frontend/build"`,
	},
	"render": {
		"Create a new Web Service from your repository",
		"Set the root directory to backend",
		"Add MONGODB_URI, NODE_ENV and PORT as environment variables",
	},
	"railway": {
		"Create a new project from your repository",
		"Add the environment variables listed in the exported .env file",
		"Deploy!",
	},
	"apache": {
		"Point the virtual host DocumentRoot at the upload path",
		"Enable mod_rewrite so the generated .htaccess routes to index.html",
	},
}

// NextSteps is the post-setup checklist shown on the finish step.
var NextSteps = []string{
	"Add Products: start adding your plumbing supplies to the catalog",
	"Configure Categories: organize your products into categories",
	"Customize Theme: adjust the look and feel of your store",
	"Set Up Payment: configure payment methods and pricing",
}

// Instructions returns the follow-up steps for each selected platform, keyed
// by category.
func (s *Session) Instructions() map[platforms.Category][]string {
	out := map[platforms.Category][]string{}
	for _, c := range platforms.Categories {
		cfg, _ := s.store.Configuration(c)
		if cfg.PlatformID == "" {
			continue
		}
		steps := platformInstructions[cfg.PlatformID]
		numbered := make([]string, len(steps))
		for i, step := range steps {
			numbered[i] = fmt.Sprintf("%d. %s", i+1, step)
		}
		out[c] = numbered
	}
	return out
}

// Summary lists what the session configured, one line per step.
func (s *Session) Summary() []string {
	sample := "Skipped"
	if s.sampleData.IsInstalled {
		sample = fmt.Sprintf("Installed (%d products)", s.sampleData.ProductsCreated)
	}
	snap := s.Snapshot()
	return []string{
		"Backend connected: " + s.backend.URL,
		"Database connected: " + snap.Database.URI,
		"Admin account created: " + s.admin.Email,
		"Sample data: " + sample,
		"Frontend deployment: " + snap.Deployment[platforms.Frontend].PlatformID,
		"Backend deployment: " + snap.Deployment[platforms.Backend].PlatformID,
	}
}

// Env returns the collected answers as environment variables. Keys set by the
// wizard itself win over user supplied build variables.
func (s *Session) Env() map[string]string {
	env := map[string]string{}
	for _, c := range platforms.Categories {
		cfg, _ := s.store.Configuration(c)
		for k, v := range cfg.BuildSettings.EnvironmentVars {
			env[k] = v
		}
	}
	set := func(k, v string) {
		if strings.TrimSpace(v) != "" {
			env[k] = v
		}
	}
	set("BACKEND_URL", s.backend.URL)
	set("MONGODB_URI", s.database.URI)
	set("ADMIN_EMAIL", s.admin.Email)
	front, _ := s.store.Configuration(platforms.Frontend)
	back, _ := s.store.Configuration(platforms.Backend)
	set("FRONTEND_PLATFORM", front.PlatformID)
	set("BACKEND_PLATFORM", back.PlatformID)
	return env
}

// ExportEnv writes Env to path in .env format.
func (s *Session) ExportEnv(path string) error {
	if err := godotenv.Write(s.Env(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	s.log.Info().Str("path", path).Msg("environment exported")
	return nil
}

package cli

import (
	"context"
	"errors"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/auth"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

// Prompter answers the orchestrator's token and credential prompts in the
// terminal.
type Prompter struct {
	ui UI
}

func NewPrompter(ui UI) *Prompter {
	return &Prompter{ui: ui}
}

func (p *Prompter) PromptToken(ctx context.Context, d platforms.Descriptor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	hint := "Paste your " + d.Name + " API token."
	if d.Auth.SetupURL != "" {
		hint += "\nCreate one at " + d.Auth.SetupURL
	}
	token, err := p.ui.Input(d.Name+" authentication", InputOptions{Hint: hint, Secret: true})
	if errors.Is(err, ErrAborted) {
		return "", auth.ErrCancelled
	}
	return token, err
}

func (p *Prompter) PromptCredentials(ctx context.Context, d platforms.Descriptor, fields []platforms.Field) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hint := f.Label
		if f.Optional {
			hint += " (optional)"
		}
		v, err := p.ui.Input(d.Name+" credentials", InputOptions{Hint: hint, Placeholder: f.Default, Secret: f.Secret})
		if errors.Is(err, ErrAborted) {
			return nil, auth.ErrCancelled
		}
		if err != nil {
			return nil, err
		}
		out[f.Name] = v
	}
	return out, nil
}

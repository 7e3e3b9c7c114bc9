package auth

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

// Prompter is the blocking modal used for token and credential entry.
// Implementations return ErrCancelled when the user dismisses the prompt.
type Prompter interface {
	PromptToken(ctx context.Context, d platforms.Descriptor) (string, error)
	PromptCredentials(ctx context.Context, d platforms.Descriptor, fields []platforms.Field) (map[string]string, error)
}

// StaticPrompter answers prompts from values known up front, such as a
// deployment file. A missing token is treated as a dismissed prompt.
type StaticPrompter struct {
	Token       string
	Credentials map[string]string
}

func (p StaticPrompter) PromptToken(ctx context.Context, d platforms.Descriptor) (string, error) {
	if p.Token == "" {
		return "", ErrCancelled
	}
	return p.Token, nil
}

func (p StaticPrompter) PromptCredentials(ctx context.Context, d platforms.Descriptor, fields []platforms.Field) (map[string]string, error) {
	if p.Credentials == nil {
		return nil, ErrCancelled
	}
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		if v, ok := p.Credentials[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out, nil
}

// Opener shows an authorization URL to the user.
type Opener interface {
	Open(url string) error
}

type OpenerFunc func(url string) error

func (f OpenerFunc) Open(url string) error { return f(url) }

// BrowserOpener launches the system browser.
type BrowserOpener struct{}

func (BrowserOpener) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	case "darwin":
		cmd = exec.Command("open", url)
	default:
		return fmt.Errorf("unsupported platform %s", runtime.GOOS)
	}
	return cmd.Start()
}

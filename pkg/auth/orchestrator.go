package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

// DefaultOAuthTimeout bounds how long an OAuth handshake may stay pending.
const DefaultOAuthTimeout = 5 * time.Minute

// Orchestrator resolves a platform's auth requirement into a Result.
type Orchestrator struct {
	prompter      Prompter
	opener        Opener
	httpClient    *http.Client
	clientIDs     map[string]string
	clientSecrets map[string]string
	callbackAddr  string
	timeout       time.Duration
	notify        func(string)
	log           zerolog.Logger
}

type Option func(*Orchestrator)

func WithPrompter(p Prompter) Option { return func(o *Orchestrator) { o.prompter = p } }

func WithOpener(op Opener) Option { return func(o *Orchestrator) { o.opener = op } }

// WithHTTPClient sets the base client used for validation requests.
func WithHTTPClient(c *http.Client) Option { return func(o *Orchestrator) { o.httpClient = c } }

// WithClientIDs maps an OAuth provider name to the application client id.
func WithClientIDs(ids map[string]string) Option {
	return func(o *Orchestrator) {
		for k, v := range ids {
			o.clientIDs[strings.ToLower(k)] = v
		}
	}
}

// WithClientSecrets maps an OAuth provider name to its client secret. With a
// secret and a tokenUrl the listener exchanges an authorization code itself.
func WithClientSecrets(secrets map[string]string) Option {
	return func(o *Orchestrator) {
		for k, v := range secrets {
			o.clientSecrets[strings.ToLower(k)] = v
		}
	}
}

// WithCallbackAddr sets the loopback address for the OAuth listener.
func WithCallbackAddr(addr string) Option { return func(o *Orchestrator) { o.callbackAddr = addr } }

func WithTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

// WithNotify receives user-facing hints, e.g. the URL to open by hand.
func WithNotify(fn func(string)) Option { return func(o *Orchestrator) { o.notify = fn } }

func WithLogger(l zerolog.Logger) Option { return func(o *Orchestrator) { o.log = l } }

func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		opener:        BrowserOpener{},
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		clientIDs:     map[string]string{},
		clientSecrets: map[string]string{},
		callbackAddr:  "127.0.0.1:0",
		timeout:       DefaultOAuthTimeout,
		notify:        func(string) {},
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// UsingPrompter returns a copy of the orchestrator that prompts through p.
func (o *Orchestrator) UsingPrompter(p Prompter) *Orchestrator {
	cp := *o
	cp.prompter = p
	return &cp
}

// Authenticate drives the interaction required by d.Auth.Type.
func (o *Orchestrator) Authenticate(ctx context.Context, d platforms.Descriptor) (Result, error) {
	log := o.log.With().Str("platform", d.ID).Str("auth", string(d.Auth.Type)).Logger()
	log.Debug().Msg("authenticating")

	switch d.Auth.Type {
	case platforms.AuthOAuth:
		token, err := o.runOAuth(ctx, d)
		if err != nil {
			return Result{}, err
		}
		return o.Verify(ctx, d, token)

	case platforms.AuthAPIToken:
		if o.prompter == nil {
			return Result{}, fmt.Errorf("%s: no prompter configured", d.ID)
		}
		token, err := o.prompter.PromptToken(ctx, d)
		if err != nil {
			return Result{}, o.promptError(d, err)
		}
		return o.Verify(ctx, d, strings.TrimSpace(token))

	case platforms.AuthCredentials, platforms.AuthFTP:
		if o.prompter == nil {
			return Result{}, fmt.Errorf("%s: no prompter configured", d.ID)
		}
		fields := d.Auth.CredentialFields()
		values, err := o.prompter.PromptCredentials(ctx, d, fields)
		if err != nil {
			return Result{}, o.promptError(d, err)
		}
		creds := make(map[string]string, len(fields))
		for _, f := range fields {
			v := values[f.Name]
			if !f.Secret {
				v = strings.TrimSpace(v)
			}
			if v == "" {
				v = f.Default
			}
			if v != "" {
				creds[f.Name] = v
			}
		}
		log.Info().Msg("credentials collected")
		return Result{Credentials: creds, authenticated: true}, nil
	}
	return Result{}, fmt.Errorf("%s: unsupported auth type %q", d.ID, d.Auth.Type)
}

// Verify checks a token against the descriptor's validation endpoint and
// returns an authenticated Result when the provider accepts it.
func (o *Orchestrator) Verify(ctx context.Context, d platforms.Descriptor, token string) (Result, error) {
	if token == "" {
		return Result{}, &AuthenticationError{Platform: d.ID, Reason: ReasonRejected, Err: errors.New("empty token")}
	}
	if d.Auth.ValidationURL == "" {
		return Result{Token: token, authenticated: true}, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.Auth.ValidationURL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%s: build validation request: %w", d.ID, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		o.log.Warn().Err(err).Str("platform", d.ID).Msg("token validation request failed")
		return Result{}, &AuthenticationError{Platform: d.ID, Reason: ReasonNetwork, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		o.log.Info().Int("status", resp.StatusCode).Str("platform", d.ID).Msg("token rejected")
		return Result{}, &AuthenticationError{Platform: d.ID, Reason: ReasonRejected, StatusCode: resp.StatusCode}
	}
	o.log.Info().Str("platform", d.ID).Msg("token verified")
	return Result{Token: token, authenticated: true}, nil
}

func (o *Orchestrator) runOAuth(ctx context.Context, d platforms.Descriptor) (string, error) {
	sess, err := newOAuthSession(o.callbackAddr, o.codeExchange(d), o.log)
	if err != nil {
		return "", &AuthenticationError{Platform: d.ID, Reason: ReasonNetwork, Err: fmt.Errorf("start callback listener: %w", err)}
	}
	defer sess.Close()

	cfg := oauth2.Config{
		ClientID:    o.clientIDs[strings.ToLower(d.Auth.Provider)],
		Endpoint:    oauth2.Endpoint{AuthURL: d.Auth.AuthorizationURL},
		RedirectURL: sess.RedirectURL(),
		Scopes:      d.Auth.Scopes,
	}
	authURL := cfg.AuthCodeURL(sess.state)

	o.notify(fmt.Sprintf("Complete %s authorization in your browser: %s", d.Name, authURL))
	if err := o.opener.Open(authURL); err != nil {
		o.log.Warn().Err(err).Msg("could not open browser, waiting for manual authorization")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	token, err := sess.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &AuthenticationError{Platform: d.ID, Reason: ReasonTimeout, Err: err}
		}
		return "", &AuthenticationError{Platform: d.ID, Reason: ReasonCancelled, Err: err}
	}
	return token, nil
}

// codeExchange returns nil unless the provider has both a client secret and
// a token endpoint.
func (o *Orchestrator) codeExchange(d platforms.Descriptor) codeExchange {
	provider := strings.ToLower(d.Auth.Provider)
	secret := o.clientSecrets[provider]
	if secret == "" || d.Auth.TokenURL == "" {
		return nil
	}
	return func(ctx context.Context, code, redirectURL string) (string, error) {
		cfg := oauth2.Config{
			ClientID:     o.clientIDs[provider],
			ClientSecret: secret,
			Endpoint:     oauth2.Endpoint{AuthURL: d.Auth.AuthorizationURL, TokenURL: d.Auth.TokenURL},
			RedirectURL:  redirectURL,
			Scopes:       d.Auth.Scopes,
		}
		tok, err := cfg.Exchange(context.WithValue(ctx, oauth2.HTTPClient, o.httpClient), code)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}
}

func (o *Orchestrator) promptError(d platforms.Descriptor, err error) error {
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return &AuthenticationError{Platform: d.ID, Reason: ReasonCancelled, Err: err}
	}
	return fmt.Errorf("%s: prompt failed: %w", d.ID, err)
}

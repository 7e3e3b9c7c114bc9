package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/deployment"
	"github.com/malfunktion/plumbing-supplies-ecommerce/pkg/platforms"
)

type recordingExecutor struct {
	calls       int
	req         Request
	deadline    time.Time
	hasDeadline bool
}

func (r *recordingExecutor) Deploy(ctx context.Context, req Request) error {
	r.calls++
	r.req = req
	r.deadline, r.hasDeadline = ctx.Deadline()
	return nil
}

func ftpDescriptor(id string, req platforms.Requirements) platforms.Descriptor {
	return platforms.Descriptor{ID: id, Name: id, Auth: platforms.Auth{Type: platforms.AuthFTP}, Requirements: req}
}

func TestDispatcher_RefusesBeforeNetwork(t *testing.T) {
	vercel, err := platforms.Default().Get(platforms.Frontend, "vercel")
	require.NoError(t, err)

	tests := []struct {
		name string
		req  Request
	}{
		{
			name: "no platform",
			req:  Request{},
		},
		{
			name: "descriptor mismatch",
			req:  Request{Config: deployment.Configuration{PlatformID: "apache"}, Descriptor: vercel},
		},
		{
			name: "unknown platform",
			req:  Request{Config: deployment.Configuration{PlatformID: "heroku"}, Descriptor: platforms.Descriptor{ID: "heroku"}},
		},
		{
			name: "vercel without oauth",
			req:  Request{Config: deployment.Configuration{Category: platforms.Frontend, PlatformID: "vercel"}, Descriptor: vercel},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingExecutor{}
			d := NewDispatcher()
			d.Register("vercel", rec)
			d.Register("apache", rec)

			err := d.Deploy(context.Background(), tt.req)
			require.Error(t, err)
			kind, ok := KindOf(err)
			require.True(t, ok)
			assert.Equal(t, KindConfiguration, kind)
			assert.Zero(t, rec.calls)
		})
	}
}

func TestDispatcher_InvalidConfigNamesRule(t *testing.T) {
	vercel, err := platforms.Default().Get(platforms.Frontend, "vercel")
	require.NoError(t, err)

	err = Default().Deploy(context.Background(), Request{
		Config:     deployment.Configuration{Category: platforms.Frontend, PlatformID: "vercel"},
		Descriptor: vercel,
	})
	var verr *deployment.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Messages, "Vercel token is required")
}

func TestDispatcher_Limits(t *testing.T) {
	dir := writeBuild(t)
	auth := ftpAuth(t, ftpCreds)

	t.Run("deploy size over limit", func(t *testing.T) {
		rec := &recordingExecutor{}
		d := NewDispatcher()
		d.Register("tiny", rec)

		err := d.Deploy(context.Background(), Request{
			Config:      deployment.Configuration{PlatformID: "tiny", AuthResult: auth},
			Descriptor:  ftpDescriptor("tiny", platforms.Requirements{MaximumDeployBytes: 4}),
			ArtifactDir: dir,
		})
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindConfiguration, kind)
		assert.Contains(t, err.Error(), "at most 4")
		assert.Zero(t, rec.calls)
	})

	t.Run("build duration becomes a deadline", func(t *testing.T) {
		rec := &recordingExecutor{}
		d := NewDispatcher()
		d.Register("slow", rec)

		start := time.Now()
		err := d.Deploy(context.Background(), Request{
			Config:      deployment.Configuration{PlatformID: "slow", AuthResult: auth},
			Descriptor:  ftpDescriptor("slow", platforms.Requirements{MaximumBuildDurationSeconds: 60}),
			ArtifactDir: dir,
		})
		require.NoError(t, err)
		require.True(t, rec.hasDeadline)
		assert.WithinDuration(t, start.Add(60*time.Second), rec.deadline, 5*time.Second)
	})

	t.Run("no limits", func(t *testing.T) {
		rec := &recordingExecutor{}
		d := NewDispatcher()
		d.Register("free", rec)

		require.NoError(t, d.Deploy(context.Background(), Request{
			Config:      deployment.Configuration{PlatformID: "free", AuthResult: auth},
			Descriptor:  ftpDescriptor("free", platforms.Requirements{}),
			ArtifactDir: dir,
		}))
		assert.False(t, rec.hasDeadline)
		assert.Equal(t, 1, rec.calls)
	})
}

func TestDispatcher_ArtifactDirDefaults(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "dist")
	require.NoError(t, os.MkdirAll(out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(out, "index.html"), []byte("x"), 0o644))

	rec := &recordingExecutor{}
	d := NewDispatcher()
	d.Register("free", rec)

	cfg := deployment.Configuration{PlatformID: "free", AuthResult: ftpAuth(t, ftpCreds)}
	cfg.BuildSettings.OutputDir = out
	require.NoError(t, d.Deploy(context.Background(), Request{Config: cfg, Descriptor: ftpDescriptor("free", platforms.Requirements{})}))
	assert.Equal(t, out, rec.req.ArtifactDir)

	cfg.BuildSettings.OutputDir = filepath.Join(root, "missing")
	err := d.Deploy(context.Background(), Request{Config: cfg, Descriptor: ftpDescriptor("free", platforms.Requirements{})})
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDispatcher_StubsAndHook(t *testing.T) {
	var hooked []string
	d := Default(WithResultHook(func(id string, err error) {
		if err != nil {
			hooked = append(hooked, id)
		}
	}))
	assert.Equal(t, []string{"apache", "github-pages", "netlify", "railway", "render", "vercel"}, d.Platforms())

	netlify, err := platforms.Default().Get(platforms.Frontend, "netlify")
	require.NoError(t, err)
	token := ftpAuth(t, ftpCreds)
	token.Token = "tok"

	var lines int
	err = d.Deploy(context.Background(), Request{
		Config:      deployment.Configuration{PlatformID: "netlify", AuthResult: token},
		Descriptor:  netlify,
		ArtifactDir: writeBuild(t),
		Logf:        func(string, ...interface{}) { lines++ },
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotImplemented))
	kind, _ := KindOf(err)
	assert.Equal(t, KindConfiguration, kind)
	assert.Equal(t, []string{"netlify"}, hooked)
	assert.Equal(t, 2, lines)
}

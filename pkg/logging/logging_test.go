package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{in: "", want: zerolog.InfoLevel},
		{in: "debug", want: zerolog.DebugLevel},
		{in: "WARN", want: zerolog.WarnLevel},
		{in: "loud", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_JSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "setup.log")
	log, closer, err := New(Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	cl := Component(log, "registry")
	cl.Info().Str("platform", "apache").Msg("selected")
	log.Debug().Msg("hidden")
	require.NoError(t, closer.Close())
	assert.Error(t, closer.Close(), "file is released after the first close")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"registry"`)
	assert.Contains(t, string(data), `"platform":"apache"`)
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_Errors(t *testing.T) {
	_, closer, err := New(Config{Level: "loud"})
	assert.Error(t, err)
	assert.NoError(t, closer.Close())

	_, _, err = New(Config{Output: filepath.Join(t.TempDir(), "missing", "setup.log")})
	assert.ErrorContains(t, err, "open log file")

	_, closer, err = New(Config{Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, closer.Close())
}

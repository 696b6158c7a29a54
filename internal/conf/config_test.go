package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/xtmix/internal/audiocore/sample"
	"github.com/tphakala/xtmix/internal/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultSettings(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	require.NoError(t, ValidateSettings(s))
	assert.Equal(t, "virtual", s.Stream.Backend)
	assert.Equal(t, int32(48000), s.Stream.Rate)
	assert.Equal(t, 4, s.Aggregate.RingPeriods)
	assert.Equal(t, RotationDaily, s.Log.Rotation)

	format, err := s.Stream.Format()
	require.NoError(t, err)
	assert.Equal(t, sample.Float32, format.Mix.Sample)
	assert.Equal(t, int32(2), format.Channels.Inputs)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
stream:
  backend: virtual
  sample: s16
  inputs: 2
  outputs: 1
  interleaved: false
aggregate:
  master: 1
  ringperiods: 3
  devices:
    - device: a
      inputs: 1
    - device: b
      inputs: 1
      outputs: 2
metrics:
  enabled: true
  listen: "127.0.0.1:9100"
`)
	s, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, "s16", s.Stream.Sample)
	assert.False(t, s.Stream.Interleaved)
	assert.Equal(t, int32(1), s.Stream.Outputs)
	require.Len(t, s.Aggregate.Devices, 2)
	assert.Equal(t, "b", s.Aggregate.Devices[1].Device)
	assert.Equal(t, int32(2), s.Aggregate.Devices[1].Outputs)
	assert.Equal(t, 1, s.Aggregate.Master)
	assert.Equal(t, "127.0.0.1:9100", s.Metrics.Listen)
	assert.NotNil(t, GetSettings())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
stream:
  backend: jack
  sample: s20
aggregate:
  master: 5
  devices:
    - device: a
      inputs: 1
`)
	_, err := Load(viper.New(), path)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestValidateChannelMasks(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	s.Stream.InMask = 0x7
	err := ValidateSettings(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "input mask")
}

func TestWriteDefault(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, WriteDefault(path))
	require.Error(t, WriteDefault(path), "existing files are kept")

	s, err := Load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().Stream, s.Stream)
}

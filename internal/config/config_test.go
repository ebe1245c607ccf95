package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"surgiplan/internal/detect"
)

func TestDefaultMatchesDetectionDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Policy()
	require.NoError(t, err)
	want := detect.DefaultPolicy()
	assert.Equal(t, want.OverloadThreshold, p.OverloadThreshold)
	assert.Equal(t, want.OverloadComparison, p.OverloadComparison)
	assert.ElementsMatch(t, want.UrgentDays, p.UrgentDays)
	assert.Equal(t, want.Scoring, p.Scoring)
	assert.Equal(t, time.Second, cfg.Assistant.PollEvery())
	assert.Equal(t, 2*time.Minute, cfg.Assistant.MaxWaitFor())
	assert.Equal(t, time.Hour, cfg.Assistant.TTL())
}

func TestFromYAMLOverridesOnlyGivenKeys(t *testing.T) {
	cfg, err := FromYAML([]byte(`
detection:
  overload_threshold: 5
  overload_comparison: gte
  urgent_days: [sábado, Domingo, friday]
server:
  addr: 0.0.0.0:9000
`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Detection.OverloadThreshold)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, 10, cfg.Detection.Scoring.LongWaitDays)

	p, err := cfg.Policy()
	require.NoError(t, err)
	assert.Equal(t, detect.GreaterThanOrEqual, p.OverloadComparison)
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday, time.Friday}, p.UrgentDays)
}

func TestNegativeThresholdIsConfigurationError(t *testing.T) {
	_, err := FromYAML([]byte("detection:\n  overload_threshold: -1\n"))
	require.Error(t, err)
	var ce *detect.ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "detection.overload_threshold", ce.Field)
}

func TestRejectsBadSettings(t *testing.T) {
	cases := map[string]string{
		"detection.urgent_days":   "detection:\n  urgent_days: [someday]\n",
		"detection.timezone":      "detection:\n  timezone: Mars/Olympus\n",
		"assistant.poll_interval": "assistant:\n  poll_interval: often\n",
		"assistant.max_wait":      "assistant:\n  max_wait: 0s\n",
		"assistant.assistant_id":  "assistant:\n  enabled: true\n",
		"server.base_path":        "server:\n  base_path: v1\n",
		"logging.format":          "logging:\n  format: xml\n",
	}
	for field, doc := range cases {
		_, err := FromYAML([]byte(doc))
		var ce *detect.ConfigurationError
		if !errors.As(err, &ce) {
			t.Errorf("%s: expected configuration error, got %v", field, err)
			continue
		}
		assert.Equal(t, field, ce.Field)
	}
}

func TestLoadOptionalFallsBackToTOML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	require.Nil(t, cfg)

	toml := `
[detection]
overload_threshold = 4
timezone = "America/Bogota"

[assistant]
enabled = true
assistant_id = "asst_123"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, TOMLFileName), []byte(toml), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Detection.OverloadThreshold)
	assert.Equal(t, "asst_123", cfg.Assistant.AssistantID)
	assert.Equal(t, "gt", cfg.Detection.OverloadComparison)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Bogota", loc.String())

	require.NoError(t, os.WriteFile(Path(dir), []byte("detection:\n  overload_threshold: 7\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Detection.OverloadThreshold)
}

func TestLoadMissingConfig(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config init")
}

func TestYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	require.NoError(t, err)
	cfg, err := FromYAML([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseWeekday(t *testing.T) {
	for name, want := range map[string]time.Weekday{
		"Miércoles": time.Wednesday,
		"SABADO":    time.Saturday,
		" sun ":     time.Sunday,
	} {
		got, ok := ParseWeekday(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
	_, ok := ParseWeekday("caturday")
	assert.False(t, ok)
}

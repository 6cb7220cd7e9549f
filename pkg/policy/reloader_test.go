package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReloaderRequiresExactlyOneSource(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())

	_, err := NewReloader(s, ReloaderConfig{})
	assert.Error(t, err)

	_, err = NewReloader(s, ReloaderConfig{
		ConfigPath: "/etc/warden/rules.yaml",
		Embedded:   &Config{},
	})
	assert.Error(t, err)
}

func TestIntervalClampedToMinimum(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{
		Embedded: &Config{},
		Interval: time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, MinReloadInterval, r.cfg.Interval)

	r, err = NewReloader(s, ReloaderConfig{Embedded: &Config{}})
	require.NoError(t, err)
	assert.Equal(t, MinReloadInterval, r.cfg.Interval)

	r, err = NewReloader(s, ReloaderConfig{
		Embedded: &Config{},
		Interval: time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, r.cfg.Interval)
}

func TestReloadEmbeddedConfig(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{
		Embedded: testConfig("3", dataItem("emb", "/var/emb", false)),
		Logger:   testLogger(),
	})
	require.NoError(t, err)

	require.NoError(t, r.Reload())

	st := r.State()
	assert.Equal(t, 1, st.RuleCount)
	assert.Equal(t, "3", st.PolicyVersion)
	assert.Equal(t, "(embedded)", st.ConfigSource)
}

func TestReloadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: "5"
watch_items:
  - name: from-disk
    paths:
      - path: /srv/disk
        is_prefix: true
`), 0o644))

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{ConfigPath: path, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, r.Reload())

	st := r.State()
	assert.Equal(t, 1, st.RuleCount)
	assert.Equal(t, "5", st.PolicyVersion)
	assert.Equal(t, path, st.ConfigSource)
}

func TestReloadMissingFile(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{
		ConfigPath: filepath.Join(t.TempDir(), "absent.yaml"),
		Logger:     testLogger(),
	})
	require.NoError(t, err)
	assert.Error(t, r.Reload())
	assert.Equal(t, 0, r.State().RuleCount)
}

func TestFailedReloadKeepsLiveSnapshot(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rules.yaml")
	good := []byte(`
version: "1"
watch_items:
  - name: stable
    paths:
      - path: /data/stable
`)
	require.NoError(t, os.WriteFile(path, good, 0o644))

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{ConfigPath: path, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, r.Reload())

	// A config that parses but fails validation must be rejected whole.
	bad := []byte(`
version: "2"
watch_items:
  - name: stable
    paths: []
`)
	require.NoError(t, os.WriteFile(path, bad, 0o644))
	err = r.Reload()
	assert.ErrorIs(t, err, ErrMissingField)

	st := r.State()
	assert.Equal(t, "1", st.PolicyVersion)
	assert.Equal(t, 1, st.RuleCount)
	out := s.FindPoliciesForTargets([]string{"/data/stable"})
	require.NotNil(t, out[0].Policy)
	assert.Equal(t, "stable", out[0].Policy.Name)
}

func TestStartReturnsInitialReloadError(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{
		ConfigPath: filepath.Join(t.TempDir(), "nope.yaml"),
		Logger:     testLogger(),
	})
	require.NoError(t, err)

	err = r.Start()
	assert.Error(t, err)
	r.Stop()
}

func TestStartTwiceFails(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{Embedded: &Config{}, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	assert.Error(t, r.Start())
}

func TestStopIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{Embedded: &Config{}, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	r.Stop()
	r.Stop()
}

func TestManualReloadWhileRunning(t *testing.T) {
	t.Parallel()

	cfg := testConfig("1", dataItem("live", "/live", false))
	s := NewStore(testLogger())
	r, err := NewReloader(s, ReloaderConfig{Embedded: cfg, Logger: testLogger()})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	cfg.Version = "2"
	require.NoError(t, r.Reload())
	assert.Equal(t, "2", r.State().PolicyVersion)
}

package policy

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func testConfig(version string, items ...WatchItem) *Config {
	return &Config{Version: version, WatchItems: items}
}

func dataItem(name, path string, prefix bool) WatchItem {
	return WatchItem{
		Name:  name,
		Paths: []WatchPath{{Path: path, IsPrefix: prefix}},
	}
}

func TestEmptyStoreMissesEverything(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	out := s.FindPoliciesForTargets([]string{"/etc/passwd", "/tmp/x"})
	require.Len(t, out, 2)
	for _, tp := range out {
		assert.Nil(t, tp.Policy)
	}
	assert.Equal(t, 0, s.State().RuleCount)
}

func TestRebuildAndInstall(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	cfg := testConfig("7",
		dataItem("hosts", "/etc/hosts", false),
		dataItem("ssh", "/etc/ssh", true),
	)
	snap, err := s.Rebuild(cfg)
	require.NoError(t, err)
	s.Install(snap, "/etc/warden/rules.yaml")

	out := s.FindPoliciesForTargets([]string{"/etc/hosts", "/etc/ssh/sshd_config", "/etc/shadow"})
	require.Len(t, out, 3)
	require.NotNil(t, out[0].Policy)
	assert.Equal(t, "hosts", out[0].Policy.Name)
	require.NotNil(t, out[1].Policy)
	assert.Equal(t, "ssh", out[1].Policy.Name)
	assert.Nil(t, out[2].Policy)

	st := s.State()
	assert.Equal(t, 2, st.RuleCount)
	assert.Equal(t, "7", st.PolicyVersion)
	assert.Equal(t, "/etc/warden/rules.yaml", st.ConfigSource)
	assert.False(t, st.LastReload.IsZero())
}

func TestRebuildRejectsNilConfig(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	_, err := s.Rebuild(nil)
	assert.ErrorIs(t, err, ErrMissingField)
}

func TestRebuildDoesNotTouchInstalledSnapshot(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	snap, err := s.Rebuild(testConfig("1", dataItem("keep", "/data/keep", false)))
	require.NoError(t, err)
	s.Install(snap, "initial")

	_, err = s.Rebuild(testConfig("2", WatchItem{Name: "broken"}))
	require.Error(t, err)

	out := s.FindPoliciesForTargets([]string{"/data/keep"})
	require.NotNil(t, out[0].Policy)
	assert.Equal(t, "keep", out[0].Policy.Name)
	assert.Equal(t, "1", s.State().PolicyVersion)
}

func TestReloadListenerReceivesDelta(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())

	var mu sync.Mutex
	var gotAdded, gotRemoved []PathAndType
	var gotTotal int
	s.RegisterReloadListener(func(added, removed []PathAndType, total int) {
		mu.Lock()
		defer mu.Unlock()
		gotAdded, gotRemoved, gotTotal = added, removed, total
	})

	snap, err := s.Rebuild(testConfig("1",
		dataItem("a", "/a", false),
		dataItem("b", "/b", true),
	))
	require.NoError(t, err)
	s.Install(snap, "t")

	mu.Lock()
	assert.ElementsMatch(t, []PathAndType{
		{Path: "/a", Type: PathTypeLiteral},
		{Path: "/b", Type: PathTypePrefix},
	}, gotAdded)
	assert.Empty(t, gotRemoved)
	assert.Equal(t, 2, gotTotal)
	mu.Unlock()

	snap, err = s.Rebuild(testConfig("2",
		dataItem("b", "/b", true),
		dataItem("c", "/c", false),
	))
	require.NoError(t, err)
	s.Install(snap, "t")

	mu.Lock()
	assert.ElementsMatch(t, []PathAndType{{Path: "/c", Type: PathTypeLiteral}}, gotAdded)
	assert.ElementsMatch(t, []PathAndType{{Path: "/a", Type: PathTypeLiteral}}, gotRemoved)
	assert.Equal(t, 2, gotTotal)
	mu.Unlock()
}

func TestIdenticalRebuildYieldsEmptyDelta(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	cfg := testConfig("1", dataItem("same", "/srv/data", true))

	snap, err := s.Rebuild(cfg)
	require.NoError(t, err)
	s.Install(snap, "t")

	var added, removed []PathAndType
	var calls int
	var mu sync.Mutex
	s.RegisterReloadListener(func(a, r []PathAndType, _ int) {
		mu.Lock()
		defer mu.Unlock()
		added, removed = a, r
		calls++
	})

	snap, err = s.Rebuild(cfg)
	require.NoError(t, err)
	s.Install(snap, "t")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}

func TestListenerMayReenterStore(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	done := make(chan int, 1)
	s.RegisterReloadListener(func(_, _ []PathAndType, _ int) {
		done <- s.State().RuleCount
	})

	snap, err := s.Rebuild(testConfig("1", dataItem("x", "/x", false)))
	require.NoError(t, err)
	s.Install(snap, "t")
	assert.Equal(t, 1, <-done)
}

func TestSameTypePathWithBothLiteralAndPrefix(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	snap, err := s.Rebuild(testConfig("1",
		dataItem("lit", "/opt/app/config.yaml", false),
		dataItem("pre", "/opt/app", true),
	))
	require.NoError(t, err)
	s.Install(snap, "t")

	out := s.FindPoliciesForTargets([]string{
		"/opt/app/config.yaml",
		"/opt/app/other.log",
	})
	require.NotNil(t, out[0].Policy)
	assert.Equal(t, "lit", out[0].Policy.Name, "literal beats the enclosing prefix")
	require.NotNil(t, out[1].Policy)
	assert.Equal(t, "pre", out[1].Policy.Name)
}

func TestSnapshotStaysValidAcrossInstall(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	snap, err := s.Rebuild(testConfig("1", dataItem("old", "/old", false)))
	require.NoError(t, err)
	s.Install(snap, "t")
	held := s.Snapshot()

	snap, err = s.Rebuild(testConfig("2", dataItem("new", "/new", false)))
	require.NoError(t, err)
	s.Install(snap, "t")

	dp, ok := held.DataPolicyFor("/old")
	require.True(t, ok, "a held snapshot is immutable, installs never invalidate it")
	assert.Equal(t, "old", dp.Name)
	_, ok = held.DataPolicyFor("/new")
	assert.False(t, ok)
}

func TestConcurrentLookupsDuringInstalls(t *testing.T) {
	t.Parallel()

	s := NewStore(testLogger())
	const generations = 50

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				out := s.FindPoliciesForTargets([]string{"/gen"})
				// Either the path is unwatched yet or it maps to some
				// complete generation, never a partial state.
				if out[0].Policy != nil {
					assert.NotEmpty(t, out[0].Policy.Name)
				}
			}
		}()
	}

	for i := 0; i < generations; i++ {
		snap, err := s.Rebuild(testConfig(
			fmt.Sprintf("%d", i),
			dataItem(fmt.Sprintf("gen-%d", i), "/gen", false),
		))
		require.NoError(t, err)
		s.Install(snap, "t")
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, fmt.Sprintf("%d", generations-1), s.State().PolicyVersion)
}

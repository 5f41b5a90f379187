package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/ava/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		MetricsNamespace: "test_app",
		StoreBackend:     "file",
		ChatDir:          t.TempDir(),
		BrainProvider:    "mock",
		AgentMaxSteps:    2,
	}
}

func TestBuildRunsATurnAgainstMock(t *testing.T) {
	ctx := context.Background()
	res, err := Build(ctx, testConfig(t), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	require.NotEmpty(t, res.Sessions.ActiveID())
	reply, err := res.Loop.Submit(ctx, "hello")
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "hello")
	assert.Equal(t, "mock", res.Loop.Provider())

	items, err := res.Store.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, res.Sessions.ActiveID(), items[0].ID)
}

func TestBuildWithToolsWrapsCompleter(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), Options{Tools: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Equal(t, "agent+mock", res.Loop.Provider())
}

func TestBuildResumeMissingSessionStartsFresh(t *testing.T) {
	res, err := Build(context.Background(), testConfig(t), Options{ResumeID: "chat_77"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	assert.Contains(t, res.Warning, "chat_77")
	assert.NotEqual(t, "chat_77", res.Sessions.ActiveID())
	assert.NotEmpty(t, res.Sessions.ActiveID())
	assert.Empty(t, res.Sessions.Messages())
}

func TestBuildResumesStoredSession(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	first, err := Build(ctx, cfg, Options{})
	require.NoError(t, err)
	_, err = first.Loop.Submit(ctx, "remember me")
	require.NoError(t, err)
	id := first.Sessions.ActiveID()
	require.NoError(t, first.Cleanup())

	second, err := Build(ctx, cfg, Options{ResumeID: id})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Cleanup() })

	assert.Equal(t, id, second.Sessions.ActiveID())
	assert.Len(t, second.Sessions.Messages(), 2)
	assert.Empty(t, second.Warning)
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreBackend = "floppy"
	_, err := Build(context.Background(), cfg, Options{})
	require.Error(t, err)
}

func sessionEventCounts(t *testing.T, res *BuildResult) map[string]float64 {
	t.Helper()
	families, err := res.Metrics.Registry().Gather()
	require.NoError(t, err)
	out := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "test_app_session_events_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "event" {
					out[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return out
}

func TestBuildCountsEachSessionEventOnce(t *testing.T) {
	ctx := context.Background()
	res, err := Build(ctx, testConfig(t), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = res.Cleanup() })

	_, err = res.Loop.Submit(ctx, "hi")
	require.NoError(t, err)
	first := res.Sessions.ActiveID()

	require.NoError(t, res.Loop.NewSession(ctx))
	warning, err := res.Loop.SwitchTo(ctx, first)
	require.NoError(t, err)
	require.Empty(t, warning)
	require.NoError(t, res.Loop.Delete(ctx, first))

	counts := sessionEventCounts(t, res)
	assert.Equal(t, 3.0, counts["created"])
	assert.Equal(t, 1.0, counts["switched"])
	assert.Equal(t, 1.0, counts["deleted"])
	assert.NotContains(t, counts, "new")
	assert.NotContains(t, counts, "load")
	assert.NotContains(t, counts, "delete")
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"surgiplan/internal/config"
)

func TestOpenUsesDefaultsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(Options{Workspace: dir, ActorID: "cli"})
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.DB)
	require.Equal(t, 3, a.Config.Detection.OverloadThreshold)
	require.Equal(t, "cli", a.Engine.ActorID)
	_, err = os.Stat(filepath.Join(dir, ".surgiplan", "surgiplan.db"))
	require.NoError(t, err)

	list, err := a.Engine.ListAnalyses(context.Background(), 5, "", "")
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "detection:\n  overload_threshold: 5\nstorage:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(yml), 0o644))

	a, err := Open(Options{Workspace: dir})
	require.NoError(t, err)
	defer a.Close()

	require.Nil(t, a.DB)
	require.False(t, a.Engine.Stores())
	require.Equal(t, 5, a.Engine.Detector.Policy().OverloadThreshold)
}

func TestExplicitConfigPathWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "other.toml")
	require.NoError(t, os.WriteFile(path, []byte("[detection]\noverload_comparison = \"gte\"\n"), 0o644))

	cfg, err := ResolveConfig(dir, path)
	require.NoError(t, err)
	require.Equal(t, "gte", cfg.Detection.OverloadComparison)
}

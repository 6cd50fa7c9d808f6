package paths

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cmd := exec.Command("git", "init", "-q", dir)
	require.NoError(t, cmd.Run())
	return dir
}

func TestGitCommonDirResolvesToDotGit(t *testing.T) {
	dir := initRepo(t)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	require.NoError(t, os.Chdir(dir))
	ClearCache()

	gitDir, err := GitCommonDir()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ".git"), gitDir)
}

func TestStateDirIsCreatedUnderGitDir(t *testing.T) {
	dir := initRepo(t)
	cwd, err := os.Getwd()
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	require.NoError(t, os.Chdir(dir))
	ClearCache()

	state, err := StateDir()
	require.NoError(t, err)
	info, err := os.Stat(state)
	require.NoError(t, err)
	require.True(t, info.IsDir())
	require.Equal(t, filepath.Join(dir, ".git", GitStackDir), state)
}

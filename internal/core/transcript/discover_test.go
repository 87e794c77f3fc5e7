package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	sidA = "11111111-2222-3333-4444-555555555555"
	sidB = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
)

func TestProjectDir(t *testing.T) {
	t.Parallel()

	cases := []struct {
		cwd  string
		want string
	}{
		{"/work/api", "-work-api"},
		{"/Users/me/Code/my.app", "-Users-me-Code-my-app"},
		{"/srv/two words", "-srv-two-words"},
	}
	for _, tc := range cases {
		assert.Equal(t, filepath.Join("/proj", tc.want), ProjectDir("/proj", tc.cwd))
	}
}

// seedProject creates a fake per-project transcript dir for cwd and returns
// its path.
func seedProject(t *testing.T, projectsDir, cwd string) string {
	t.Helper()
	dir := ProjectDir(projectsDir, cwd)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func writeSession(t *testing.T, dir, sid, firstLine string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, sid+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(firstLine+"\n"), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
	return path
}

func TestFindSessionFileDirect(t *testing.T) {
	t.Parallel()
	projectsDir := t.TempDir()
	dir := seedProject(t, projectsDir, "/work/api")
	want := writeSession(t, dir, sidA, `{"type":"user","cwd":"/work/api"}`, time.Now())

	got, ok := FindSessionFile(projectsDir, sidA, "/work/api")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestFindSessionFileScansWithoutCwd(t *testing.T) {
	t.Parallel()
	projectsDir := t.TempDir()
	dir := seedProject(t, projectsDir, "/work/api")
	want := writeSession(t, dir, sidA, `{"type":"user","cwd":"/work/api"}`, time.Now())

	got, ok := FindSessionFile(projectsDir, sidA, "")
	require.True(t, ok)
	assert.Equal(t, want, got)

	_, ok = FindSessionFile(projectsDir, sidB, "")
	assert.False(t, ok)

	_, ok = FindSessionFile(projectsDir, "", "/work/api")
	assert.False(t, ok)
}

func TestFindSessionFileDisambiguatesByRecordedCwd(t *testing.T) {
	t.Parallel()
	projectsDir := t.TempDir()

	// The same session id exists in two project dirs whose names do not
	// derive from the lookup cwd, forcing the glob + content check.
	dirA := filepath.Join(projectsDir, "proj-a")
	dirB := filepath.Join(projectsDir, "proj-b")
	require.NoError(t, os.MkdirAll(dirA, 0o755))
	require.NoError(t, os.MkdirAll(dirB, 0o755))
	writeSession(t, dirA, sidA, `{"type":"user","cwd":"/work/a"}`, time.Now())
	want := writeSession(t, dirB, sidA, `{"type":"user","cwd":"/work/b"}`, time.Now())

	got, ok := FindSessionFile(projectsDir, sidA, "/work/b")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestListSessions(t *testing.T) {
	t.Parallel()
	projectsDir := t.TempDir()
	dir := seedProject(t, projectsDir, "/work/api")

	base := time.Now().Add(-time.Hour)
	writeSession(t, dir, sidA, `{"type":"summary","summary":"Fix the flaky build"}`, base)
	writeSession(t, dir, sidB, `{"type":"user","message":{"role":"user","content":"add dark mode"}}`, base.Add(10*time.Minute))
	writeSession(t, dir, "99999999-8888-7777-6666-555555555555", `{"type":"user"}`, base.Add(20*time.Minute))

	// Sidecars and stray files never list.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent-"+sidA+".jsonl"), []byte("{}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	infos := ListSessions(projectsDir, "/work/api", 0)
	require.Len(t, infos, 3)
	assert.Equal(t, "99999999-8888-7777-6666-555555555555", infos[0].ID, "newest first")
	assert.Equal(t, sidB, infos[1].ID)
	assert.Equal(t, "add dark mode", infos[1].Preview)
	assert.Equal(t, sidA, infos[2].ID)
	assert.Equal(t, "Fix the flaky build", infos[2].Preview)

	limited := ListSessions(projectsDir, "/work/api", 2)
	require.Len(t, limited, 2)
	assert.Equal(t, infos[0].ID, limited[0].ID)

	assert.Nil(t, ListSessions(projectsDir, "/nowhere/else", 5))
}

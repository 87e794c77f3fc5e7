package transcript

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/mattn/go-runewidth"
)

// sessionFileRe matches UUID-named transcript files. Sidecar files such as
// agent-*.jsonl are excluded elsewhere.
var sessionFileRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\.jsonl$`)

// SessionInfo describes one transcript found in a project's session index.
type SessionInfo struct {
	ID       string
	Path     string
	Modified time.Time
	Preview  string
}

// ProjectDir returns the provider's per-project transcript directory for a
// working directory: "/Users/name/Code/project" maps to
// "<projectsDir>/-Users-name-Code-project".
func ProjectDir(projectsDir, cwd string) string {
	if resolved, err := filepath.EvalSymlinks(cwd); err == nil && resolved != "" {
		cwd = resolved
	}
	name := strings.NewReplacer("/", "-", ".", "-", " ", "-").Replace(cwd)
	return filepath.Join(projectsDir, name)
}

// FindSessionFile locates the transcript for a session id. The per-project
// candidate derived from cwd is tried first; otherwise the projects dir is
// scanned, disambiguating by the cwd recorded inside each transcript.
func FindSessionFile(projectsDir, sessionID, cwd string) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	if cwd != "" {
		direct := filepath.Join(ProjectDir(projectsDir, cwd), sessionID+".jsonl")
		if _, err := os.Stat(direct); err == nil {
			return direct, true
		}
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(projectsDir, "*", sessionID+".jsonl"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	if len(matches) > 1 && cwd != "" {
		for _, m := range matches {
			if transcriptCwd(m) == cwd {
				return m, true
			}
		}
	}
	return matches[0], true
}

// ListSessions returns the project's transcripts newest-first, with a short
// preview label for pickers. Missing index dir yields nil.
func ListSessions(projectsDir, cwd string, limit int) []SessionInfo {
	dir := ProjectDir(projectsDir, cwd)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var infos []SessionInfo
	for _, de := range entries {
		name := de.Name()
		if strings.HasPrefix(name, "agent-") || !sessionFileRe.MatchString(name) {
			continue
		}
		fi, err := de.Info()
		if err != nil {
			continue
		}
		infos = append(infos, SessionInfo{
			ID:       strings.TrimSuffix(name, ".jsonl"),
			Path:     filepath.Join(dir, name),
			Modified: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Modified.After(infos[j].Modified) })
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	for i := range infos {
		infos[i].Preview = sessionPreview(infos[i].Path)
	}
	return infos
}

// transcriptCwd reads the working directory recorded on the first decodable
// lines of a transcript.
func transcriptCwd(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	for i := 0; sc.Scan() && i < 20; i++ {
		e, err := DecodeLine(sc.Bytes())
		if err != nil {
			continue
		}
		if e.Cwd != "" {
			return e.Cwd
		}
	}
	return ""
}

// sessionPreview pulls a short label from the transcript: the stored summary
// when present, else the first user text.
func sessionPreview(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	fallback := ""
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanLine)
	for i := 0; sc.Scan() && i < 50; i++ {
		e, err := DecodeLine(sc.Bytes())
		if err != nil {
			continue
		}
		switch {
		case e.Type == "summary" && e.Summary != "":
			return previewText(e.Summary)
		case e.Type == "user" && fallback == "":
			if s := e.Message.ContentString(); s != "" && !strings.HasPrefix(s, "<") {
				fallback = previewText(s)
			}
		}
	}
	return fallback
}

func previewText(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return runewidth.Truncate(strings.TrimSpace(s), 60, "…")
}

const maxScanLine = 10 * 1024 * 1024

package crontab

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crontab")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write crontab: %v", err)
	}
	return path
}

func TestLoadEntries(t *testing.T) {
	t.Parallel()
	path := writeFile(t, `
# comment line
MARKET=BR
API_KEY="secret value"

*/30 10-18 * * 1-5 @job pipeline
0 3 * * * sqlite3 /data/db 'VACUUM;'
@hourly echo tick
@every 90m /usr/local/bin/sync.sh --fast
`)

	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(f.Entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(f.Entries))
	}

	e := f.Entries[0]
	if e.Spec != "*/30 10-18 * * 1-5" {
		t.Fatalf("Spec = %q", e.Spec)
	}
	if e.Job != "pipeline" || e.Command != "" {
		t.Fatalf("Job = %q, Command = %q; want built-in reference", e.Job, e.Command)
	}
	if len(e.Env) != 2 || e.Env[0] != "MARKET=BR" || e.Env[1] != "API_KEY=secret value" {
		t.Fatalf("Env = %v", e.Env)
	}

	if got := f.Entries[1].Command; got != "sqlite3 /data/db 'VACUUM;'" {
		t.Fatalf("Command = %q", got)
	}
	if got := f.Entries[2].Spec; got != "@hourly" {
		t.Fatalf("Spec = %q", got)
	}
	if got := f.Entries[3].Spec; got != "@every 90m" {
		t.Fatalf("Spec = %q", got)
	}
}

func TestLoadSecondsSpec(t *testing.T) {
	t.Parallel()
	f, err := Load(writeFile(t, "30 */5 * * * * echo tick\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	e := f.Entries[0]
	if e.Spec != "30 */5 * * * *" {
		t.Fatalf("Spec = %q, want the seconds field included", e.Spec)
	}
	if e.Command != "echo tick" {
		t.Fatalf("Command = %q", e.Command)
	}
}

func TestLoadCommandKeepsInnerWhitespace(t *testing.T) {
	t.Parallel()
	f, err := Load(writeFile(t, `0 3 * * * echo "a  b"   done`+"\n"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if got := f.Entries[0].Command; got != `echo "a  b"   done` {
		t.Fatalf("Command = %q, inner whitespace not preserved", got)
	}
}

func TestLoadEnvAppliesOnlyForward(t *testing.T) {
	t.Parallel()
	path := writeFile(t, `
0 0 * * * before
LATER=1
0 1 * * * after
`)
	f, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(f.Entries[0].Env) != 0 {
		t.Fatalf("first entry env = %v, want empty", f.Entries[0].Env)
	}
	if len(f.Entries[1].Env) != 1 || f.Entries[1].Env[0] != "LATER=1" {
		t.Fatalf("second entry env = %v", f.Entries[1].Env)
	}
}

func TestLoadInvalidLines(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		wantSub string
	}{
		{name: "bad spec", content: "61 * * * * echo hi\n", wantSub: "invalid cron spec"},
		{name: "too few fields", content: "* * * echo\n", wantSub: "5-field"},
		{name: "missing command", content: "* * * * *\n", wantSub: "5-field"},
		{name: "descriptor missing command", content: "@hourly\n", wantSub: "missing command"},
		{name: "seconds spec missing command", content: "0 30 * * * *\n", wantSub: "missing command"},
		{name: "bad job ref", content: "@hourly @job\n", wantSub: "@job <name>"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeFile(t, tt.content))
			if err == nil {
				t.Fatalf("Load(%q) succeeded, want error", tt.content)
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("error %q does not mention %q", err, tt.wantSub)
			}
			// Errors carry the file position for operators.
			if !strings.Contains(err.Error(), ":") {
				t.Fatalf("error %q has no line info", err)
			}
		})
	}
}

func TestEntryName(t *testing.T) {
	t.Parallel()
	if got := (Entry{Job: "pipeline"}).Name(); got != "@job pipeline" {
		t.Fatalf("Name = %q", got)
	}
	if got := (Entry{Command: "echo hi"}).Name(); got != "echo hi" {
		t.Fatalf("Name = %q", got)
	}
}

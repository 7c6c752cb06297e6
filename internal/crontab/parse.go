// Package crontab loads the schedule-definition file.
//
// Format, one entry per line:
//
//	<cron-spec> <command...>
//
// where <cron-spec> is a classic 5-field cron expression, a 6-field
// expression with a leading seconds field, or an @descriptor ("@hourly",
// "@every 30m", ...). Blank lines and '#' comments are ignored.
// "NAME=value" lines set environment variables for all subsequent entries.
// A command of the form "@job <name>" references a built-in job instead of
// a shell command.
package crontab

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// Entry is one schedule line: a validated spec plus the command it fires.
type Entry struct {
	Line int // 1-based line number in the source file

	Spec    string
	Command string   // shell command; empty when Job is set
	Job     string   // built-in job name for "@job <name>" entries
	Env     []string // "NAME=value" pairs active at this entry's line
}

// Name returns a stable display name for the entry.
func (e Entry) Name() string {
	if e.Job != "" {
		return "@job " + e.Job
	}
	return e.Command
}

// File is a parsed schedule-definition file.
type File struct {
	Path    string
	Entries []Entry
}

// specParser validates 5-field expressions and @descriptors; secondsParser
// validates the 6-field form with a leading seconds field.
var (
	specParser = cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	secondsParser = cron.NewParser(
		cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)
)

var reEnvLine = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)=(.*)$`)

// Load reads and parses path. Any invalid line fails the whole load with
// its line number, so a broken file never becomes the active schedule.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := &File{Path: path}
	var env []string

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if m := reEnvLine.FindStringSubmatch(line); m != nil && !strings.HasPrefix(line, "@") {
			env = append(env, m[1]+"="+unquote(m[2]))
			continue
		}

		e, err := parseEntry(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineno, err)
		}
		e.Line = lineno
		e.Env = append([]string(nil), env...)
		out.Entries = append(out.Entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

func parseEntry(line string) (Entry, error) {
	fields := strings.Fields(line)

	var spec string
	var n int
	switch {
	case strings.HasPrefix(fields[0], "@"):
		// "@every" carries its duration as a second field.
		n = 1
		if strings.EqualFold(fields[0], "@every") {
			n = 2
		}
		if len(fields) < n {
			return Entry{}, fmt.Errorf("incomplete schedule %q", line)
		}
		spec = strings.Join(fields[:n], " ")
		if _, err := specParser.Parse(spec); err != nil {
			return Entry{}, fmt.Errorf("invalid cron spec %q: %w", spec, err)
		}
	default:
		if len(fields) < 6 {
			return Entry{}, fmt.Errorf("want '<5-field cron spec> <command>', got %q", line)
		}
		// Try the 6-field (seconds) form first so a seconds field never
		// leaks into the command, then fall back to classic 5 fields.
		if cand := strings.Join(fields[:6], " "); validSecondsSpec(cand) {
			spec, n = cand, 6
		} else {
			cand := strings.Join(fields[:5], " ")
			if _, err := specParser.Parse(cand); err != nil {
				return Entry{}, fmt.Errorf("invalid cron spec %q: %w", cand, err)
			}
			spec, n = cand, 5
		}
	}

	// The command is the raw remainder of the line. Rejoining fields would
	// collapse whitespace inside quoted arguments before sh -c sees them.
	rest := cutFields(line, n)
	if rest == "" {
		return Entry{}, fmt.Errorf("missing command after spec %q", spec)
	}

	e := Entry{Spec: spec}
	rf := strings.Fields(rest)
	if strings.EqualFold(rf[0], "@job") {
		if len(rf) != 2 {
			return Entry{}, fmt.Errorf("want '@job <name>', got %q", rest)
		}
		e.Job = rf[1]
		return e, nil
	}
	e.Command = rest
	return e, nil
}

func validSecondsSpec(spec string) bool {
	_, err := secondsParser.Parse(spec)
	return err == nil
}

// cutFields returns the remainder of line after its first n whitespace
// separated fields, with inner spacing preserved.
func cutFields(line string, n int) string {
	rest := line
	for i := 0; i < n; i++ {
		rest = strings.TrimLeft(rest, " \t")
		j := strings.IndexAny(rest, " \t")
		if j < 0 {
			return ""
		}
		rest = rest[j:]
	}
	return strings.TrimSpace(rest)
}

// unquote strips one matching pair of single or double quotes, the way cron
// implementations treat env values.
func unquote(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

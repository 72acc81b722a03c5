// Package snapshot turns a pasted site snapshot into generator inputs: one
// markdown file per captured source page and a task line pointing the
// generator at those files.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/seantiz/webgen/internal/model"
)

const (
	sourceMarker = "Source: "
	sourcePrefix = sourceMarker + "https:"
	taskLead     = " - use the data in the following files to customize the website: "
)

// Source is one captured page: its sanitized name and the lines that follow
// its marker.
type Source struct {
	Name  string
	Lines []string
}

// Parse splits the snapshot into sources. A line starting with
// "Source: https:" opens a new source; lines before the first marker are
// dropped.
func Parse(snapshot string) []Source {
	var sources []Source
	for _, line := range splitLines(snapshot) {
		if strings.HasPrefix(line, sourcePrefix) {
			url := line[strings.LastIndex(line, sourceMarker)+len(sourceMarker):]
			sources = append(sources, Source{Name: Sanitize(url)})
			continue
		}
		if len(sources) > 0 {
			last := &sources[len(sources)-1]
			last.Lines = append(last.Lines, line)
		}
	}
	return sources
}

// splitLines splits s at every line boundary, with "\r\n" counting as one.
// Besides "\n" and "\r" the boundaries are \v, \f, the file, group and
// record separators, NEL, and the Unicode line and paragraph separators. A
// trailing boundary does not produce an empty last line.
func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, r := range s {
		if i < start {
			continue // second byte of a "\r\n" pair
		}
		switch r {
		case '\n', '\v', '\f', '\x1c', '\x1d', '\x1e', '\u0085', '\u2028', '\u2029':
			lines = append(lines, s[start:i])
			start = i + utf8.RuneLen(r)
		case '\r':
			lines = append(lines, s[start:i])
			start = i + 1
			if strings.HasPrefix(s[start:], "\n") {
				start++
			}
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

// Sanitize maps a source URL to a flat file name stem.
func Sanitize(url string) string {
	return strings.NewReplacer("/", "_", ".", "_").Replace(url)
}

// Write appends every source of snapshot to <name>.md inside dir and appends
// the task line referencing them to task.txt. Sources repeated in the
// snapshot are appended to the same file and referenced once. It returns the
// referenced names in first-seen order.
func Write(dir, snapshot string) ([]string, error) {
	var names []string
	for _, src := range Parse(snapshot) {
		path := filepath.Join(dir, src.Name+".md")
		content := strings.Join(src.Lines, "\n\n")
		if _, err := os.Stat(path); err == nil {
			content = "\n\n" + content
		}
		if err := appendFile(path, content); err != nil {
			return nil, fmt.Errorf("write source %s: %w", src.Name, err)
		}
		if !slices.Contains(names, src.Name) {
			names = append(names, src.Name)
		}
	}

	refs := make([]string, len(names))
	for i, n := range names {
		refs[i] = "@" + n
	}
	if err := appendFile(filepath.Join(dir, model.TaskFile), taskLead+strings.Join(refs, ", ")); err != nil {
		return nil, fmt.Errorf("write task file: %w", err)
	}
	return names, nil
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

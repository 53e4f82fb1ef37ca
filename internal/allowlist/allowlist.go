// Package allowlist parses the per-broker application allowlist file.
//
// The file uses a flat INI grammar: `[broker]` section headers, `; comment`
// lines, and `alias = AppName.exe` entries. Sections map broker identifiers
// to the application short names whose disconnected sessions may be logged
// off. Parsing preserves file order and comment lines so the structure can
// be re-serialized faithfully; semantic validation is left to the caller.
package allowlist

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	ErrNotFound      = errors.New("allowlist: file not found")
	ErrInvalidFormat = errors.New("allowlist: not an .ini file")
)

// NoSection is the synthetic bucket for keys and comments that appear
// before any section header.
const NoSection = "no-section"

var (
	sectionRe = regexp.MustCompile(`^\[(.+)\]\s*$`)
	// Greedy key: a line with several '=' splits at the last one. The lazy
	// separator consumes nothing, so raw whitespace stays on both key and
	// value; callers trim at use time.
	keyRe     = regexp.MustCompile(`^(.*)\s*?=\s*?(.*)$`)
	commentRe = regexp.MustCompile(`^Comment\d+$`)
)

// Entry is one allowlist rule: alias is the config key (a human label),
// Target the application short name it matches against.
type Entry struct {
	Alias  string
	Target string
}

// Section holds the keys of one `[name]` block in file order.
type Section struct {
	Name       string
	keys       []string
	values     map[string]string
	commentSeq int
}

// Keys returns the section's keys in file order. Duplicate keys appear
// once, at the position of their first occurrence.
func (s *Section) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Get returns the raw value for a key. Values carry whatever whitespace
// survived the separator pattern; callers trim at use time.
func (s *Section) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

func (s *Section) set(key, value string) {
	if _, exists := s.values[key]; !exists {
		s.keys = append(s.keys, key)
	}
	s.values[key] = value
}

func (s *Section) addComment(text string) {
	s.commentSeq++
	s.set(fmt.Sprintf("Comment%d", s.commentSeq), text)
}

// File is the parsed allowlist: sections in file order, keyed by name.
type File struct {
	sections []*Section
	byName   map[string]*Section
}

// Load reads and parses the allowlist at path. The file must exist and
// carry the .ini extension; any line content is accepted (unrecognized
// lines are ignored).
func Load(path string) (*File, error) {
	if !strings.EqualFold(filepath.Ext(path), ".ini") {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("allowlist: open %s: %w", path, err)
	}
	defer f.Close()

	file := &File{byName: make(map[string]*Section)}
	var current *Section

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if m := sectionRe.FindStringSubmatch(line); m != nil {
			current = file.section(m[1])
			// A reopened section keeps its keys but restarts comment numbering.
			current.commentSeq = 0
			continue
		}

		if strings.HasPrefix(line, ";") {
			if current == nil {
				current = file.section(NoSection)
			}
			current.addComment(line)
			continue
		}

		// An empty key (a line starting with '=') is stored like any other.
		if m := keyRe.FindStringSubmatch(line); m != nil {
			if current == nil {
				current = file.section(NoSection)
			}
			current.set(m[1], m[2])
			continue
		}

		// Anything else (blank lines, malformed content) is ignored.
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("allowlist: read %s: %w", path, err)
	}

	return file, nil
}

// Sections returns the section names in file order.
func (f *File) Sections() []string {
	names := make([]string, len(f.sections))
	for i, s := range f.sections {
		names[i] = s.Name
	}
	return names
}

// Brokers returns the broker identifiers to sweep: all sections in file
// order, excluding the synthetic no-section bucket.
func (f *File) Brokers() []string {
	names := make([]string, 0, len(f.sections))
	for _, s := range f.sections {
		if s.Name == NoSection {
			continue
		}
		names = append(names, s.Name)
	}
	return names
}

// Section returns the named section, or nil if absent.
func (f *File) Section(name string) *Section {
	return f.byName[name]
}

// AllowList returns the (alias, target) entries for a broker section in
// key order, excluding CommentN keys. A missing section yields no entries.
func (f *File) AllowList(name string) []Entry {
	s := f.byName[name]
	if s == nil {
		return nil
	}
	entries := make([]Entry, 0, len(s.keys))
	for _, k := range s.keys {
		if commentRe.MatchString(k) {
			continue
		}
		entries = append(entries, Entry{Alias: k, Target: s.values[k]})
	}
	return entries
}

func (f *File) section(name string) *Section {
	if s, ok := f.byName[name]; ok {
		return s
	}
	s := &Section{Name: name, values: make(map[string]string)}
	f.sections = append(f.sections, s)
	f.byName[name] = s
	return s
}

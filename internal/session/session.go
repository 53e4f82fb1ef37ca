// Package session defines the disconnected-session value types and the
// pure matching logic that decides which sessions qualify for logoff.
package session

import (
	"strings"

	"github.com/gale-rmm/reaper/internal/allowlist"
)

// Disconnected is a snapshot of one disconnected user session as reported
// by a broker. Instances are fetched fresh each cycle and never cached.
type Disconnected struct {
	ID       string   `json:"id"`
	UserName string   `json:"userName"`
	AppPaths []string `json:"appPaths"`
}

// ShortName extracts the application short name from a published-app path:
// the last segment after splitting on backslash or forward slash. A path
// with no delimiter is its own short name.
func ShortName(path string) string {
	if i := strings.LastIndexAny(path, `\/`); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Match compares every in-use application of a session against every
// allowlist entry and returns the full set of matching entries, in entry
// order. Targets are trimmed of surrounding whitespace at lookup time;
// the derived short name is compared as-is, case-sensitively.
//
// All pairs are evaluated — no short-circuit — so callers can report the
// complete match set. Any non-empty result makes the session eligible.
func Match(entries []allowlist.Entry, s Disconnected) []allowlist.Entry {
	shorts := make([]string, len(s.AppPaths))
	for i, p := range s.AppPaths {
		shorts[i] = ShortName(p)
	}

	var matched []allowlist.Entry
	for _, e := range entries {
		target := strings.TrimSpace(e.Target)
		for _, short := range shorts {
			if short == target {
				matched = append(matched, e)
				break
			}
		}
	}
	return matched
}

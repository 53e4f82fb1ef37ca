package session

import (
	"testing"

	"github.com/gale-rmm/reaper/internal/allowlist"
)

func TestShortName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{`Domain\User\Calculator.exe`, "Calculator.exe"},
		{`/opt/apps/Notepad.exe`, "Notepad.exe"},
		{`Mixed\Path/Last.exe`, "Last.exe"},
		{"Bare.exe", "Bare.exe"},
		{"", ""},
		{`trailing\`, ""},
	}
	for _, tt := range tests {
		if got := ShortName(tt.path); got != tt.want {
			t.Errorf("ShortName(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMatchBasic(t *testing.T) {
	entries := []allowlist.Entry{{Alias: "calc", Target: "Calculator.exe"}}

	hit := Disconnected{ID: "1", UserName: "Alice", AppPaths: []string{`Domain\User\Calculator.exe`}}
	if got := Match(entries, hit); len(got) != 1 || got[0].Alias != "calc" {
		t.Fatalf("Match = %v, want one calc match", got)
	}

	miss := Disconnected{ID: "2", UserName: "Bob", AppPaths: []string{`Domain\User\Notepad.exe`}}
	if got := Match(entries, miss); len(got) != 0 {
		t.Fatalf("Match = %v, want none", got)
	}
}

func TestMatchIsCaseSensitive(t *testing.T) {
	entries := []allowlist.Entry{{Alias: "calc", Target: "calculator.exe"}}
	s := Disconnected{AppPaths: []string{`Apps\Calculator.exe`}}
	if got := Match(entries, s); len(got) != 0 {
		t.Fatalf("match should be case-sensitive, got %v", got)
	}
}

func TestMatchTrimsTargetOnly(t *testing.T) {
	entries := []allowlist.Entry{{Alias: "calc", Target: "  Calculator.exe  "}}
	s := Disconnected{AppPaths: []string{`Apps\Calculator.exe`}}
	if got := Match(entries, s); len(got) != 1 {
		t.Fatalf("target should be trimmed at lookup time, got %v", got)
	}
}

func TestMatchRawEntryFromMultiEqualsLine(t *testing.T) {
	// The parser splits `app = extra = Part2.exe` at the last '=' and keeps
	// raw whitespace; the use-time trim makes the target matchable.
	entries := []allowlist.Entry{{Alias: "app = extra ", Target: " Part2.exe"}}
	s := Disconnected{AppPaths: []string{`Apps\Part2.exe`}}
	got := Match(entries, s)
	if len(got) != 1 || got[0].Alias != "app = extra " {
		t.Fatalf("Match = %v, want the raw entry", got)
	}
}

func TestMatchReturnsFullSet(t *testing.T) {
	entries := []allowlist.Entry{
		{Alias: "a", Target: "Calculator.exe"},
		{Alias: "b", Target: "Notepad.exe"},
		{Alias: "c", Target: "Calculator.exe"},
	}
	s := Disconnected{AppPaths: []string{
		`Apps\Calculator.exe`,
		`Apps\Notepad.exe`,
	}}

	got := Match(entries, s)
	if len(got) != 3 {
		t.Fatalf("expected all three entries to match, got %v", got)
	}
	for i, alias := range []string{"a", "b", "c"} {
		if got[i].Alias != alias {
			t.Fatalf("match order = %v, want entry order a,b,c", got)
		}
	}
}

func TestMatchEmptyAllowlist(t *testing.T) {
	s := Disconnected{AppPaths: []string{`Apps\Calculator.exe`}}
	if got := Match(nil, s); len(got) != 0 {
		t.Fatalf("empty allowlist should match nothing, got %v", got)
	}
}

package flagparse

import (
	"testing"
)

// equalSlices is a helper to compare two string slices for equality.
func equalSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}

func TestParseExcludeList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Simple List", "a,b,c", []string{"a", "b", "c"}},
		{"List with Spaces", " a , b, c ", []string{"a", "b", "c"}},
		{"Empty String", "", nil},
		{"Quoted Item with Spaces", "'item with spaces',b", []string{"item with spaces", "b"}},
		{"Quoted Item with Comma", "'a,b',c", []string{"a,b", "c"}},
		{"Mixed Quoted and Unquoted", "a,'b,c',d", []string{"a", "b,c", "d"}},
		{"Unmatched Quote", "'a,b", []string{"a,b"}},
		{"Multiple Quoted Items", "'a b','c d'", []string{"a b", "c d"}},
		{"Double Quoted Item with Spaces", "\"item with spaces\",b", []string{"item with spaces", "b"}},
		{"Nested Quotes", "'a \"b\" c',d", []string{"a \"b\" c", "d"}},
		{"Nested Quotes 2", "\"it's a test\",d", []string{"it's a test", "d"}},
		{"Windows Path with Backslashes", `C:\Users\Test,D:\Data`, []string{`C:\Users\Test`, `D:\Data`}},
		{"Unix Path with Slashes", "/home/user/test,/var/log", []string{"/home/user/test", "/var/log"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseExcludeList(tc.input)

			// Handle the case where an empty input should result in a nil or empty slice.
			if len(tc.expected) == 0 && len(result) == 0 {
				// This is a pass, so we can return early.
				return
			}

			if !equalSlices(result, tc.expected) {
				t.Errorf("expected %v, but got %v", tc.expected, result)
			}
		})
	}
}

func TestParseCmdList(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Simple List", "cmd1,cmd2", []string{"cmd1", "cmd2"}},
		{"Quoted Item with Spaces", "'echo hello',cmd2", []string{"'echo hello'", "cmd2"}},
		{"Quoted Item with Comma", "'echo a,b',c", []string{"'echo a,b'", "c"}},
		{"Unmatched Quote", "'a,b", []string{"'a,b"}},
		{"Multiple Quoted Items", "'a b','c d'", []string{"'a b'", "'c d'"}},
		{"Double Quoted Item with Spaces", "\"item with spaces\",b", []string{"\"item with spaces\"", "b"}},
		{"Mixed Single and Double Quotes", "'a b',\"c,d\",e", []string{"'a b'", "\"c,d\"", "e"}},
		{"Nested Quotes", "'a \"b\" c',d", []string{"'a \"b\" c'", "d"}},
		{"Escaped Single Quote Inside Single Quotes", "'hello\\'world',next", []string{"'hello\\'world'", "next"}},
		{"Escaped Double Quote Inside Double Quotes", "\"hello\\\"world\",next", []string{"\"hello\\\"world\"", "next"}},
		{"Escaped Comma Outside Quotes", "a\\,b,c", []string{"a\\,b", "c"}},
		{"Escaped Backslash", "'a\\\\b',c", []string{"'a\\\\b'", "c"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result := ParseCmdList(tc.input)

			// Handle the case where an empty input should result in a nil or empty slice.
			if len(tc.expected) == 0 && len(result) == 0 {
				// This is a pass, so we can return early.
				return
			}

			if !equalSlices(result, tc.expected) {
				t.Errorf("expected %v, but got %v", tc.expected, result)
			}
		})
	}
}

func TestParseKeyValueList(t *testing.T) {
	testCases := []struct {
		name        string
		input       string
		expected    map[string]string
		expectError bool
	}{
		{"Empty", "", map[string]string{}, false},
		{"Single Pair", "myapp=/opt/myapp", map[string]string{"myapp": "/opt/myapp"}, false},
		{"Multiple Pairs", "a=/x, b = /y", map[string]string{"a": "/x", "b": "/y"}, false},
		{"Windows Path", `tool=C:\Tools\My Tool`, map[string]string{"tool": `C:\Tools\My Tool`}, false},
		{"Quoted Value with Comma", "'a=/x,y',b=/z", map[string]string{"a": "/x,y", "b": "/z"}, false},
		{"Value Contains Equals", "a=/x=y", map[string]string{"a": "/x=y"}, false},
		{"Missing Value", "a=", nil, true},
		{"Missing Separator", "a", nil, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := ParseKeyValueList(tc.input)
			if tc.expectError {
				if err == nil {
					t.Fatalf("expected error, got %v", result)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result) != len(tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, result)
			}
			for k, v := range tc.expected {
				if result[k] != v {
					t.Errorf("expected %s=%s, got %s", k, v, result[k])
				}
			}
		})
	}
}

func TestParse(t *testing.T) {
	t.Run("Backup only reports set flags", func(t *testing.T) {
		cmd, flags, err := Parse([]string{"backup", "-base", "/data", "-plugins", "vscode,git", "-dry-run", "-install-dirs", "tool=/opt/tool"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cmd != Backup {
			t.Errorf("expected backup, got %s", cmd)
		}
		if flags["base"] != "/data" {
			t.Errorf("expected base /data, got %v", flags["base"])
		}
		if !equalSlices(flags["plugins"].([]string), []string{"vscode", "git"}) {
			t.Errorf("unexpected plugins %v", flags["plugins"])
		}
		if flags["dry-run"] != true {
			t.Errorf("expected dry-run to be set")
		}
		if dirs := flags["install-dirs"].(map[string]string); dirs["tool"] != "/opt/tool" {
			t.Errorf("unexpected install dirs %v", dirs)
		}
		if _, ok := flags["log-level"]; ok {
			t.Error("expected unset log-level to be absent")
		}
	})

	t.Run("Restore rejects backup-only flags", func(t *testing.T) {
		if _, _, err := Parse([]string{"restore", "-compression"}); err == nil {
			t.Error("expected an error for an unknown flag")
		}
	})

	t.Run("Resume", func(t *testing.T) {
		cmd, flags, err := Parse([]string{"resume", "-base", "/data", "-task-id", "abc", "-full"})
		if err != nil || cmd != Resume {
			t.Fatalf("unexpected result %v %v", cmd, err)
		}
		if flags["task-id"] != "abc" || flags["full"] != true {
			t.Errorf("unexpected flags %v", flags)
		}
	})

	t.Run("Detect snapshot", func(t *testing.T) {
		cmd, flags, err := Parse([]string{"detect", "-base", "/data", "-save-snapshot", "installed.json"})
		if err != nil || cmd != Detect {
			t.Fatalf("unexpected result %v %v", cmd, err)
		}
		if flags["save-snapshot"] != "installed.json" {
			t.Errorf("unexpected flags %v", flags)
		}
	})

	t.Run("Version has no flags", func(t *testing.T) {
		cmd, flags, err := Parse([]string{"version"})
		if err != nil || cmd != Version || flags != nil {
			t.Errorf("unexpected result %v %v %v", cmd, flags, err)
		}
	})

	t.Run("Unknown command", func(t *testing.T) {
		if _, _, err := Parse([]string{"prune"}); err == nil {
			t.Error("expected error for unknown command")
		}
	})

	t.Run("Bad install dirs", func(t *testing.T) {
		if _, _, err := Parse([]string{"detect", "-install-dirs", "broken"}); err == nil {
			t.Error("expected error for malformed install dirs")
		}
	})

	t.Run("Stray arguments", func(t *testing.T) {
		if _, _, err := Parse([]string{"list", "-base", "/data", "extra"}); err == nil {
			t.Error("expected error for stray arguments")
		}
	})
}

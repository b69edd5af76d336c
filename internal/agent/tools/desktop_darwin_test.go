//go:build darwin

package tools

import "testing"

func TestKeyPhrase(t *testing.T) {
	cases := []struct {
		key  string
		want string
	}{
		{"enter", "keystroke return"},
		{"Return", "keystroke return"},
		{"tab", "keystroke tab"},
		{"space", "keystroke space"},
		{"esc", "key code 53"},
		{"escape", "key code 53"},
		{"backspace", "key code 51"},
		{"arrow_up", "key code 126"},
		{"arrow_down", "key code 125"},
		{"arrow_left", "key code 123"},
		{"arrow_right", "key code 124"},
		{"a", `keystroke "a"`},
		{"F", `keystroke "F"`},
	}

	for _, tc := range cases {
		if got := keyPhrase(tc.key); got != tc.want {
			t.Errorf("keyPhrase(%q) = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestModifierClause(t *testing.T) {
	cases := []struct {
		name string
		mods []string
		want string
	}{
		{"none", nil, ""},
		{"command", []string{"command"}, " using {command down}"},
		{"cmd alias", []string{"cmd"}, " using {command down}"},
		{"ctrl shift", []string{"ctrl", "shift"}, " using {control down, shift down}"},
		{"alt alias", []string{"alt"}, " using {option down}"},
		{"unknown ignored", []string{"hyper"}, ""},
		{"mixed case", []string{"Command", "SHIFT"}, " using {command down, shift down}"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := modifierClause(tc.mods); got != tc.want {
				t.Errorf("modifierClause(%v) = %q, want %q", tc.mods, got, tc.want)
			}
		})
	}
}

func TestParseElementLines(t *testing.T) {
	out := "button|发送|100|200|80|30\n" +
		"field|Search|10|50|300|24\n" +
		"button|broken|x|200|80|30\n" + // non-numeric coordinate
		"too|few|parts\n" +
		"\n"

	elements := parseElementLines(out)
	if len(elements) != 2 {
		t.Fatalf("parsed %d elements, want 2: %+v", len(elements), elements)
	}

	first := elements[0]
	if first.Role != "button" || first.Title != "发送" || first.X != 100 || first.Y != 200 || first.W != 80 || first.H != 30 {
		t.Errorf("first element = %+v", first)
	}
	if elements[1].Role != "field" || elements[1].Title != "Search" {
		t.Errorf("second element = %+v", elements[1])
	}
}

func TestParseElementLines_Whitespace(t *testing.T) {
	// osascript output can carry stray spaces around the numbers.
	elements := parseElementLines("button|OK| 5 | 6 | 7 | 8 \n")
	if len(elements) != 1 {
		t.Fatalf("parsed %d elements, want 1", len(elements))
	}
	e := elements[0]
	if e.X != 5 || e.Y != 6 || e.W != 7 || e.H != 8 {
		t.Errorf("element = %+v", e)
	}
}

package textutil

import (
	"reflect"
	"testing"
)

func TestNormalizeStringMap(t *testing.T) {
	t.Run("trims keys and values", func(t *testing.T) {
		input := map[string]string{
			" Spice ":  " mild ",
			"ice":      " less ",
			"empty":    " ",
			" ":        "ignored",
			"":         "ignore",
			"<b>x</b>": "<script>alert(1)</script>ok",
		}

		expected := map[string]string{
			"Spice": "mild",
			"ice":   "less",
			"empty": "",
			"x":     "ok",
		}

		actual := NormalizeStringMap(input)
		if !reflect.DeepEqual(actual, expected) {
			t.Fatalf("expected %#v got %#v", expected, actual)
		}
	})

	t.Run("returns nil for nil or empty input", func(t *testing.T) {
		if NormalizeStringMap(nil) != nil {
			t.Fatalf("expected nil for nil input")
		}
		if NormalizeStringMap(map[string]string{}) != nil {
			t.Fatalf("expected nil for empty map")
		}
	})
}

func TestSanitizeText(t *testing.T) {
	if got := SanitizeText("  no <i>onion</i> please "); got != "no onion please" {
		t.Fatalf("unexpected sanitized text %q", got)
	}
}

func TestNormalizeCode(t *testing.T) {
	cases := map[string]string{
		"summer10":    "SUMMER10",
		" Summer 10 ": "SUMMER10",
		"ＳＵＭＭＥＲ１０":    "SUMMER10",
	}
	for input, want := range cases {
		if got := NormalizeCode(input); got != want {
			t.Fatalf("NormalizeCode(%q): expected %q got %q", input, want, got)
		}
	}
}

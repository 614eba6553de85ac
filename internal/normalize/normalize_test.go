package normalize

import "testing"

func TestEmail(t *testing.T) {
	in := "  John.DOE@Example.COM  "
	want := "john.doe@example.com"
	got := Email(in)
	if got != want {
		t.Fatalf("Normalize.Email(%q) = %q, want %q", in, got, want)
	}
}

func TestContent(t *testing.T) {
	cases := map[string]string{
		"  hi  ":     "hi",
		"\n\t ":      "",
		"":           "",
		"a b":        "a b",
		" multi\nx ": "multi\nx",
	}
	for in, want := range cases {
		if got := Content(in); got != want {
			t.Fatalf("Content(%q) = %q, want %q", in, got, want)
		}
	}
}

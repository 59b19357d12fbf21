package domain

import (
	"testing"
	"unicode/utf8"
)

// FuzzParseLabel checks that parsing never panics and that a parsed label
// parses to itself.
func FuzzParseLabel(f *testing.F) {
	f.Add("")
	f.Add("alice")
	f.Add("  ALICE  ")
	f.Add("-edge-")
	f.Add("a_b-c")
	f.Add("'; DROP TABLE claims;--")
	f.Add(string([]byte{0x00, 0xff, 0xfe}))
	f.Add("K")

	f.Fuzz(func(t *testing.T, input string) {
		label, err := ParseLabel(input)
		if err != nil {
			return
		}

		again, err := ParseLabel(string(label))
		if err != nil {
			t.Fatalf("parsed label %q rejected on re-parse: %v", label, err)
		}
		if again != label {
			t.Fatalf("re-parse changed label: %q -> %q", label, again)
		}
		if len(label) == 0 || len(label) > MaxLabelLength {
			t.Fatalf("label length %d out of range", len(label))
		}
		if !utf8.ValidString(string(label)) {
			t.Fatalf("label %q is not valid UTF-8", label)
		}
	})
}

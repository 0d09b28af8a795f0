package render

import (
	"strings"
	"testing"
	"time"

	"github.com/startupai/narrative/services/narrative/internal/evidence"
	"github.com/startupai/narrative/services/narrative/internal/narrative"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]string{"pdf": FormatPDF, " JSON ": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("pptx"); err == nil {
		t.Fatalf("expected pptx to be rejected")
	}
}

func TestOutlineCoversEverySection(t *testing.T) {
	d := narrative.Synthesize(narrative.Input{
		Project: evidence.Project{ID: "p1", Name: "Acme"},
		Now:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	out := Outline(d)
	for _, title := range []string{"Acme\n", "Overview\n", "Traction\n", "Use of funds\n"} {
		if !strings.Contains(out, title) {
			t.Fatalf("outline missing %q:\n%s", title, out)
		}
	}
	if !strings.HasSuffix(out, "\n") || strings.HasSuffix(out, "\n\n") {
		t.Fatalf("outline must end with exactly one newline")
	}
}

func TestNormalizeText(t *testing.T) {
	got := NormalizeText("a  \r\nb\t\r\n\n\n")
	if got != "a\nb\n" {
		t.Fatalf("unexpected normalized text %q", got)
	}
}

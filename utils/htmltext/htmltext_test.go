package htmltext

import (
	"strings"
	"testing"
)

func TestExtractStripsMarkup(t *testing.T) {
	src := `<!DOCTYPE html>
<html>
<head><title>Quiz Bank</title><style>body { color: red; }</style></head>
<body>
<script>console.log("tracking");</script>
<h1>Chapter Review</h1>
<p>1. What is the capital of France?</p>
<ul>
<li>a) Berlin</li>
<li>b) Paris</li>
</ul>
</body>
</html>`

	got, err := Extract(src)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	for _, want := range []string{"Chapter Review", "1. What is the capital of France?", "a) Berlin", "b) Paris"} {
		if !strings.Contains(got, want) {
			t.Errorf("Output missing %q:\n%s", want, got)
		}
	}
	for _, banned := range []string{"Quiz Bank", "color: red", "console.log", "<p>", "<li>"} {
		if strings.Contains(got, banned) {
			t.Errorf("Output leaked %q:\n%s", banned, got)
		}
	}
}

func TestExtractKeepsLineStructure(t *testing.T) {
	src := `<div><p>1. First question?</p><p>2. Second question?</p></div>`

	got, err := Extract(src)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	lines := strings.Split(got, "\n")
	var nonEmpty []string
	for _, line := range lines {
		if line != "" {
			nonEmpty = append(nonEmpty, line)
		}
	}
	if len(nonEmpty) != 2 {
		t.Fatalf("Line count mismatch: got %d lines %q, want the two questions apart", len(nonEmpty), nonEmpty)
	}
	if nonEmpty[0] != "1. First question?" || nonEmpty[1] != "2. Second question?" {
		t.Errorf("Line content mismatch: %q", nonEmpty)
	}
}

func TestExtractNormalizesWhitespace(t *testing.T) {
	src := "<p>spaced     out\t\ttext</p><p></p><p></p><p>next</p>"

	got, err := Extract(src)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if strings.Contains(got, "  ") {
		t.Errorf("Whitespace runs survived: %q", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("Blank line stretches survived: %q", got)
	}
	if !strings.Contains(got, "spaced out text") {
		t.Errorf("Intra-line collapse mismatch: %q", got)
	}
}

func TestExtractDecodesEntities(t *testing.T) {
	src := "<p>Tom &amp; Jerry &lt;study&gt;</p>"

	got, err := Extract(src)
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if !strings.Contains(got, "Tom & Jerry <study>") {
		t.Errorf("Entities not decoded: %q", got)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	got, err := Extract("")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if got != "" {
		t.Errorf("Empty input produced output: %q", got)
	}
}

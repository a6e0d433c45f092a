package parser

import (
	"strings"
	"testing"
)

func TestMarkdownParser_HeadingHierarchy(t *testing.T) {
	input := `# Title

Intro text.

## Section A

Section A content.

### Subsection A1

Subsection A1 content.

## Section B

Section B content.
`
	p := &MarkdownParser{}
	o, err := p.Parse(strings.NewReader(input), "docs/doc.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if o.Title != "doc" {
		t.Errorf("expected title %q, got %q", "doc", o.Title)
	}
	if len(o.Sections) != 1 {
		t.Fatalf("expected 1 top-level section (h1), got %d", len(o.Sections))
	}

	h1 := o.Sections[0]
	if h1.Title != "Title" {
		t.Errorf("expected h1 title %q, got %q", "Title", h1.Title)
	}
	if h1.Text != "Intro text." {
		t.Errorf("expected h1 text %q, got %q", "Intro text.", h1.Text)
	}
	if len(h1.Children) != 2 {
		t.Fatalf("expected 2 h2 children, got %d", len(h1.Children))
	}

	secA := h1.Children[0]
	if secA.Title != "Section A" {
		t.Errorf("expected %q, got %q", "Section A", secA.Title)
	}
	if len(secA.Children) != 1 || secA.Children[0].Title != "Subsection A1" {
		t.Fatalf("expected Subsection A1 under Section A, got %+v", secA.Children)
	}
	if h1.Children[1].Title != "Section B" {
		t.Errorf("expected %q, got %q", "Section B", h1.Children[1].Title)
	}
}

func TestMarkdownParser_NoHeadings(t *testing.T) {
	input := `Just some plain text.

Another paragraph here.`

	o, err := (&MarkdownParser{}).Parse(strings.NewReader(input), "plain.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.Sections) != 1 {
		t.Fatalf("expected 1 section for headingless markdown, got %d", len(o.Sections))
	}
	want := "Just some plain text.\n\nAnother paragraph here."
	if o.Sections[0].Text != want {
		t.Errorf("expected %q, got %q", want, o.Sections[0].Text)
	}
}

func TestMarkdownParser_CodeBlocksKept(t *testing.T) {
	input := "# API Reference\n\nSome intro.\n\n## Endpoints\n\n```\nGET /api/users\nPOST /api/users\n```\n\nMore text after code.\n"

	o, err := (&MarkdownParser{}).Parse(strings.NewReader(input), "api.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	endpoints := o.Sections[0].Children[0]
	if !strings.Contains(endpoints.Text, "GET /api/users") {
		t.Errorf("expected code block content in text, got %q", endpoints.Text)
	}
	if !strings.Contains(endpoints.Text, "More text after code.") {
		t.Errorf("expected post-code text, got %q", endpoints.Text)
	}
}

func TestMarkdownParser_EmptyInput(t *testing.T) {
	o, err := (&MarkdownParser{}).Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(o.Sections) != 0 {
		t.Errorf("expected 0 sections for empty input, got %d", len(o.Sections))
	}
	if o.Text() != "" {
		t.Errorf("expected empty text, got %q", o.Text())
	}
}

func TestOutlineText(t *testing.T) {
	input := "Preamble.\n\n# Title\n\nIntro.\n\n## Part\n\nBody *with emphasis*.\n"
	o, err := (&MarkdownParser{}).Parse(strings.NewReader(input), "x.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Preamble.\n\n# Title\n\nIntro.\n\n## Part\n\nBody with emphasis."
	if got := o.Text(); got != want {
		t.Errorf("expected\n%q\ngot\n%q", want, got)
	}
}

func TestHTMLParser_HeadingsAndSkippedElements(t *testing.T) {
	input := `<html><head><title>Guide</title><style>p{}</style></head>
<body>
<nav><p>menu</p></nav>
<h1>Overview</h1>
<p>The service stores jobs.</p>
<h2>Storage</h2>
<ul><li>SQLite</li><li>Files</li></ul>
<script>var x = 1;</script>
</body></html>`

	o, err := (&HTMLParser{}).Parse(strings.NewReader(input), "guide.html")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.Title != "Guide" {
		t.Errorf("expected title from <title>, got %q", o.Title)
	}
	text := o.Text()
	for _, want := range []string{"# Overview", "The service stores jobs.", "## Storage", "SQLite", "Files"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in %q", want, text)
		}
	}
	for _, unwanted := range []string{"menu", "var x"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("did not expect %q in %q", unwanted, text)
		}
	}
}

func TestForFile(t *testing.T) {
	tests := []struct {
		filename string
		ok       bool
	}{
		{"README.md", true},
		{"notes.MARKDOWN", true},
		{"index.htm", true},
		{"manual.pdf", true},
		{"design.docx", true},
		{"main.go", false},
		{"data.csv", false},
	}
	for _, tc := range tests {
		_, err := ForFile(tc.filename)
		if (err == nil) != tc.ok {
			t.Errorf("ForFile(%q): expected ok=%v, got err=%v", tc.filename, tc.ok, err)
		}
		if IsSupportedExtension(tc.filename) != tc.ok {
			t.Errorf("IsSupportedExtension(%q): expected %v", tc.filename, tc.ok)
		}
	}
}

func TestExtractText(t *testing.T) {
	text, err := ExtractText(strings.NewReader("# Hello\n\nWorld"), "a.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "# Hello\n\nWorld" {
		t.Errorf("unexpected text %q", text)
	}

	if _, err := ExtractText(strings.NewReader("x"), "a.rs"); err == nil {
		t.Error("expected error for unsupported extension")
	}
}

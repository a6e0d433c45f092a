package parser

import (
	"strings"
)

// Outline is a document reduced to its heading structure and text.
type Outline struct {
	Title    string
	Sections []*Section
}

// Section is one heading and the text beneath it.
type Section struct {
	Title    string
	Level    int
	Text     string
	Page     int
	Children []*Section
}

// Text renders the outline as markdown-style text: headings keep their
// nesting depth, paragraphs are separated by blank lines.
func (o *Outline) Text() string {
	var sb strings.Builder
	var walk func(sections []*Section, depth int)
	walk = func(sections []*Section, depth int) {
		for _, s := range sections {
			if s.Title != "" {
				writeBlock(&sb, strings.Repeat("#", min(depth, 6))+" "+s.Title)
			}
			if s.Text != "" {
				writeBlock(&sb, s.Text)
			}
			walk(s.Children, depth+1)
		}
	}
	walk(o.Sections, 1)
	return sb.String()
}

func writeBlock(sb *strings.Builder, block string) {
	if sb.Len() > 0 {
		sb.WriteString("\n\n")
	}
	sb.WriteString(block)
}

// outlineBuilder nests sections by heading level as they are encountered.
type outlineBuilder struct {
	root    *Section
	stack   []*Section
	pending strings.Builder
}

func newOutlineBuilder() *outlineBuilder {
	root := &Section{}
	return &outlineBuilder{root: root, stack: []*Section{root}}
}

// heading closes the pending text and opens a section at level.
func (b *outlineBuilder) heading(level int, title string) {
	b.flush()
	s := &Section{Title: title, Level: level}
	for len(b.stack) > 1 && b.stack[len(b.stack)-1].Level >= level {
		b.stack = b.stack[:len(b.stack)-1]
	}
	parent := b.stack[len(b.stack)-1]
	parent.Children = append(parent.Children, s)
	b.stack = append(b.stack, s)
}

// text appends a paragraph to the current section.
func (b *outlineBuilder) text(t string) {
	t = strings.TrimSpace(t)
	if t == "" {
		return
	}
	if b.pending.Len() > 0 {
		b.pending.WriteString("\n\n")
	}
	b.pending.WriteString(t)
}

func (b *outlineBuilder) flush() {
	t := strings.TrimSpace(b.pending.String())
	b.pending.Reset()
	if t == "" {
		return
	}
	top := b.stack[len(b.stack)-1]
	if top.Text != "" {
		top.Text += "\n\n" + t
	} else {
		top.Text = t
	}
}

func (b *outlineBuilder) finish(title string) *Outline {
	b.flush()
	o := &Outline{Title: title, Sections: b.root.Children}
	// Text before the first heading, or a document without headings.
	if b.root.Text != "" {
		o.Sections = append([]*Section{{Text: b.root.Text}}, o.Sections...)
	}
	return o
}

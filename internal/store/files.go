package store

import (
	"bytes"
	"fmt"
	"html"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// Output file names inside a run directory.
const (
	SummaryFile = "summary.json"
	DesignFile  = "design.md"
	HTMLFile    = "design.html"
)

// SaveText writes text verbatim.
func SaveText(path, text string) error {
	return writeFile(path, []byte(text))
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// RenderHTML converts a markdown design document into a standalone page.
func RenderHTML(title, markdown string) ([]byte, error) {
	var body bytes.Buffer
	if err := md.Convert([]byte(markdown), &body); err != nil {
		return nil, fmt.Errorf("render markdown: %w", err)
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", html.EscapeString(title))
	page.Write(body.Bytes())
	page.WriteString("</body>\n</html>\n")
	return page.Bytes(), nil
}

// SaveHTML renders markdown and writes the page to path.
func SaveHTML(path, title, markdown string) error {
	data, err := RenderHTML(title, markdown)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

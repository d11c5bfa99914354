// Package markdown renders page content to HTML and converts pages to and
// from markdown files with YAML front matter.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Heading is one entry of a page's table of contents.
type Heading struct {
	Level int    `json:"level"`
	ID    string `json:"id"`
	Text  string `json:"text"`
}

const (
	tocMinLevel = 2
	tocMaxLevel = 3
)

// engine never emits raw HTML: goldmark's default renderer replaces it with a
// comment and drops links with dangerous schemes.
var engine = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		extension.Linkify,
		extension.TaskList,
	),
	goldmark.WithParserOptions(
		parser.WithAutoHeadingID(),
	),
)

// Render converts markdown to HTML.
func Render(src string) (string, error) {
	var buf bytes.Buffer
	if err := engine.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("markdown render: %w", err)
	}
	return buf.String(), nil
}

// RenderWithTOC renders src and collects its level 2 and 3 headings from the
// same parse, so TOC ids always match the rendered anchors.
func RenderWithTOC(src string) (string, []Heading, error) {
	source := []byte(src)
	doc := engine.Parser().Parse(text.NewReader(source))

	var buf bytes.Buffer
	if err := engine.Renderer().Render(&buf, source, doc); err != nil {
		return "", nil, fmt.Errorf("markdown render: %w", err)
	}
	return buf.String(), collectHeadings(doc, source), nil
}

// TOC returns the level 2 and 3 headings of src in document order.
func TOC(src string) []Heading {
	source := []byte(src)
	doc := engine.Parser().Parse(text.NewReader(source))
	return collectHeadings(doc, source)
}

func collectHeadings(doc ast.Node, source []byte) []Heading {
	headings := make([]Heading, 0)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if heading.Level >= tocMinLevel && heading.Level <= tocMaxLevel {
			headings = append(headings, Heading{
				Level: heading.Level,
				ID:    attributeString(heading, "id"),
				Text:  strings.TrimSpace(nodeText(heading, source)),
			})
		}
		return ast.WalkSkipChildren, nil
	})
	return headings
}

func attributeString(n ast.Node, name string) string {
	value, ok := n.AttributeString(name)
	if !ok {
		return ""
	}
	switch v := value.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return ""
	}
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(source))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(c.Value)
		default:
			b.WriteString(nodeText(child, source))
		}
	}
	return b.String()
}

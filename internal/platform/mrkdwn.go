// ABOUTME: Markdown to mrkdwn conversion for agent replies
// ABOUTME: Walks a goldmark AST and emits the platform's formatting dialect

package platform

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ToMrkdwn converts standard markdown into the platform's mrkdwn
// dialect: **bold** becomes *bold*, [text](url) becomes <url|text>,
// list bullets become •, and headings render as bold lines.
func ToMrkdwn(markdown string) string {
	src := []byte(markdown)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var blocks []string
	for c := doc.FirstChild(); c != nil; c = c.NextSibling() {
		if s := renderBlock(c, src, 0); s != "" {
			blocks = append(blocks, s)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderBlock(n ast.Node, src []byte, depth int) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return renderInlineChildren(n, src)

	case *ast.Heading:
		return "*" + renderInlineChildren(n, src) + "*"

	case *ast.List:
		var items []string
		num := n.Start
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			marker := "•"
			if n.IsOrdered() {
				marker = fmt.Sprintf("%d.", num)
				num++
			}
			items = append(items, renderListItem(c, src, depth, marker))
		}
		return strings.Join(items, "\n")

	case *ast.FencedCodeBlock:
		return "```\n" + codeLines(n, src) + "```"

	case *ast.CodeBlock:
		return "```\n" + codeLines(n, src) + "```"

	case *ast.Blockquote:
		var inner []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			inner = append(inner, renderBlock(c, src, depth))
		}
		lines := strings.Split(strings.Join(inner, "\n"), "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		return strings.Join(lines, "\n")

	case *ast.ThematicBreak:
		return ""

	default:
		return renderInlineChildren(n, src)
	}
}

func renderListItem(item ast.Node, src []byte, depth int, marker string) string {
	indent := strings.Repeat("    ", depth)
	var parts []string
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		if nested, ok := c.(*ast.List); ok {
			parts = append(parts, renderBlock(nested, src, depth+1))
			continue
		}
		parts = append(parts, indent+marker+" "+renderBlock(c, src, depth))
	}
	return strings.Join(parts, "\n")
}

func codeLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return b.String()
}

func renderInlineChildren(n ast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		renderInline(c, src, &b)
	}
	return b.String()
}

func renderInline(n ast.Node, src []byte, b *strings.Builder) {
	switch n := n.(type) {
	case *ast.Text:
		b.Write(n.Segment.Value(src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteByte('\n')
		}

	case *ast.String:
		b.Write(n.Value)

	case *ast.Emphasis:
		marker := "_"
		if n.Level >= 2 {
			marker = "*"
		}
		b.WriteString(marker)
		b.WriteString(renderInlineChildren(n, src))
		b.WriteString(marker)

	case *ast.CodeSpan:
		b.WriteByte('`')
		b.WriteString(renderInlineChildren(n, src))
		b.WriteByte('`')

	case *ast.Link:
		label := renderInlineChildren(n, src)
		dest := string(n.Destination)
		if label == "" || label == dest {
			b.WriteString("<" + dest + ">")
		} else {
			b.WriteString("<" + dest + "|" + label + ">")
		}

	case *ast.AutoLink:
		b.WriteString("<" + string(n.URL(src)) + ">")

	case *ast.Image:
		// mrkdwn has no inline images; fall back to the URL.
		b.WriteString(string(n.Destination))

	default:
		b.WriteString(renderInlineChildren(n, src))
	}
}

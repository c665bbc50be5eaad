// ABOUTME: Converts model Markdown into WhatsApp's lightweight text formatting
// ABOUTME: Walks the goldmark AST and emits *bold*, _italic_, ~strike~ and plain lists

package whatsapp

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// FormatReply rewrites Markdown for display in WhatsApp. Bold becomes *x*,
// italics _x_, strikethrough ~x~, headings bold lines, list items "- " or
// "N. ", and links "label (url)". Code spans and fences are kept.
func FormatReply(md string) string {
	if strings.TrimSpace(md) == "" {
		return ""
	}
	src := []byte(md)
	doc := markdown.Parser().Parse(text.NewReader(src))

	f := &formatter{src: src}
	out := strings.TrimSpace(f.blocks(doc, "\n\n"))
	if out == "" {
		return strings.TrimSpace(md)
	}
	return out
}

type formatter struct {
	src []byte
}

func (f *formatter) blocks(parent ast.Node, sep string) string {
	var parts []string
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		if s := f.block(n); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, sep)
}

func (f *formatter) block(n ast.Node) string {
	switch n := n.(type) {
	case *ast.Paragraph, *ast.TextBlock:
		return f.inlines(n)
	case *ast.Heading:
		title := strings.TrimSpace(f.inlines(n))
		if title == "" {
			return ""
		}
		return "*" + title + "*"
	case *ast.List:
		return f.list(n)
	case *ast.FencedCodeBlock:
		return "```\n" + strings.TrimRight(f.lines(n.Lines()), "\n") + "\n```"
	case *ast.CodeBlock:
		return "```\n" + strings.TrimRight(f.lines(n.Lines()), "\n") + "\n```"
	case *ast.HTMLBlock:
		return strings.TrimRight(f.lines(n.Lines()), "\n")
	case *ast.Blockquote:
		inner := f.blocks(n, "\n")
		lines := strings.Split(inner, "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		return strings.Join(lines, "\n")
	case *ast.ThematicBreak:
		return ""
	default:
		return f.blocks(n, "\n\n")
	}
}

func (f *formatter) list(l *ast.List) string {
	var items []string
	num := l.Start
	if num == 0 {
		num = 1
	}
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "- "
		if l.IsOrdered() {
			marker = strconv.Itoa(num) + ". "
			num++
		}
		body := f.blocks(item, "\n")
		// indent continuation lines under the marker
		body = strings.ReplaceAll(body, "\n", "\n"+strings.Repeat(" ", len(marker)))
		items = append(items, marker+body)
	}
	return strings.Join(items, "\n")
}

func (f *formatter) lines(segs *text.Segments) string {
	var b strings.Builder
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(f.src))
	}
	return b.String()
}

func (f *formatter) inlines(parent ast.Node) string {
	var b strings.Builder
	for n := parent.FirstChild(); n != nil; n = n.NextSibling() {
		f.inline(&b, n)
	}
	return b.String()
}

func (f *formatter) inline(b *strings.Builder, n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		b.Write(n.Segment.Value(f.src))
		if n.SoftLineBreak() || n.HardLineBreak() {
			b.WriteByte('\n')
		}
	case *ast.String:
		b.Write(n.Value)
	case *ast.Emphasis:
		mark := "_"
		if n.Level >= 2 {
			mark = "*"
		}
		b.WriteString(mark + f.inlines(n) + mark)
	case *extast.Strikethrough:
		b.WriteString("~" + f.inlines(n) + "~")
	case *ast.CodeSpan:
		b.WriteString("`" + f.inlines(n) + "`")
	case *ast.Link:
		label := f.inlines(n)
		dest := string(n.Destination)
		if label == "" || label == dest {
			b.WriteString(dest)
			return
		}
		b.WriteString(label + " (" + dest + ")")
	case *ast.AutoLink:
		b.Write(n.URL(f.src))
	case *ast.Image:
		label := f.inlines(n)
		if label != "" {
			b.WriteString(label + " ")
		}
		b.WriteString("(" + string(n.Destination) + ")")
	case *ast.RawHTML:
		b.WriteString(f.lines(n.Segments))
	default:
		b.WriteString(f.inlines(n))
	}
}

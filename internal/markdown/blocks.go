// Package markdown splits assistant replies into display blocks and renders
// them for the terminal.
package markdown

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

type Kind string

const (
	KindHeading   Kind = "heading"
	KindParagraph Kind = "paragraph"
	KindList      Kind = "list"
	KindTable     Kind = "table"
	KindCode      Kind = "code"
	KindQuote     Kind = "quote"
	KindRule      Kind = "rule"
)

// Block is one top-level element of a message. Which fields are set
// depends on Kind.
type Block struct {
	Kind     Kind
	Level    int        // heading
	Text     string     // heading, paragraph, quote, code
	Language string     // code
	Ordered  bool       // list
	Items    []ListItem // list
	Header   []string   // table
	Rows     [][]string // table
}

type ListItem struct {
	Depth  int
	Marker string // "- " or "3. "
	Text   string
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table, extension.Strikethrough))

// Parse splits content into blocks. Inline markup is reduced to its text.
func Parse(content string) []Block {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	source := []byte(content)
	doc := md.Parser().Parse(text.NewReader(source))

	var blocks []Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		blocks = appendBlock(blocks, n, source)
	}
	return blocks
}

func appendBlock(blocks []Block, node ast.Node, source []byte) []Block {
	switch n := node.(type) {
	case *ast.Heading:
		return append(blocks, Block{Kind: KindHeading, Level: n.Level, Text: inline(n, source)})

	case *ast.Paragraph, *ast.TextBlock:
		return append(blocks, Block{Kind: KindParagraph, Text: inline(n, source)})

	case *ast.FencedCodeBlock:
		return append(blocks, Block{Kind: KindCode, Language: string(n.Language(source)), Text: lines(n, source)})

	case *ast.CodeBlock:
		return append(blocks, Block{Kind: KindCode, Text: lines(n, source)})

	case *ast.HTMLBlock:
		return append(blocks, Block{Kind: KindParagraph, Text: lines(n, source)})

	case *ast.List:
		b := Block{Kind: KindList, Ordered: n.IsOrdered()}
		b.Items = listItems(b.Items, n, source, 0)
		return append(blocks, b)

	case *ast.Blockquote:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			for _, inner := range appendBlock(nil, c, source) {
				parts = append(parts, blockText(inner))
			}
		}
		return append(blocks, Block{Kind: KindQuote, Text: strings.Join(parts, "\n")})

	case *ast.ThematicBreak:
		return append(blocks, Block{Kind: KindRule})

	case *extast.Table:
		return append(blocks, table(n, source))

	default:
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			blocks = appendBlock(blocks, c, source)
		}
		return blocks
	}
}

func listItems(items []ListItem, list *ast.List, source []byte, depth int) []ListItem {
	num := list.Start
	for c := list.FirstChild(); c != nil; c = c.NextSibling() {
		item, ok := c.(*ast.ListItem)
		if !ok {
			continue
		}
		marker := "- "
		if list.IsOrdered() {
			marker = fmt.Sprintf("%d. ", num)
			num++
		}

		var parts []string
		var nested []*ast.List
		for ic := item.FirstChild(); ic != nil; ic = ic.NextSibling() {
			if sub, ok := ic.(*ast.List); ok {
				nested = append(nested, sub)
				continue
			}
			for _, b := range appendBlock(nil, ic, source) {
				parts = append(parts, blockText(b))
			}
		}
		items = append(items, ListItem{Depth: depth, Marker: marker, Text: strings.Join(parts, " ")})
		for _, sub := range nested {
			items = listItems(items, sub, source, depth+1)
		}
	}
	return items
}

func table(n *extast.Table, source []byte) Block {
	b := Block{Kind: KindTable}
	for r := n.FirstChild(); r != nil; r = r.NextSibling() {
		var cells []string
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, inline(c, source))
		}
		if _, ok := r.(*extast.TableHeader); ok {
			b.Header = cells
			continue
		}
		b.Rows = append(b.Rows, cells)
	}
	return b
}

func blockText(b Block) string {
	switch b.Kind {
	case KindList:
		items := make([]string, len(b.Items))
		for i, it := range b.Items {
			items[i] = strings.Repeat("  ", it.Depth) + it.Marker + it.Text
		}
		return strings.Join(items, "\n")
	case KindTable:
		rows := [][]string{b.Header}
		rows = append(rows, b.Rows...)
		out := make([]string, len(rows))
		for i, r := range rows {
			out[i] = strings.Join(r, " | ")
		}
		return strings.Join(out, "\n")
	default:
		return b.Text
	}
}

func lines(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		buf.Write(seg.Value(source))
	}
	return strings.TrimRight(buf.String(), "\n")
}

func inline(node ast.Node, source []byte) string {
	var buf bytes.Buffer
	writeInline(&buf, node, source)
	return strings.TrimSpace(buf.String())
}

func writeInline(buf *bytes.Buffer, node ast.Node, source []byte) {
	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		switch n := c.(type) {
		case *ast.Text:
			buf.Write(n.Segment.Value(source))
			switch {
			case n.HardLineBreak():
				buf.WriteByte('\n')
			case n.SoftLineBreak():
				buf.WriteByte(' ')
			}
		case *ast.String:
			buf.Write(n.Value)
		case *ast.AutoLink:
			buf.Write(n.URL(source))
		case *ast.RawHTML:
			for i := 0; i < n.Segments.Len(); i++ {
				seg := n.Segments.At(i)
				buf.Write(seg.Value(source))
			}
		case *ast.Link:
			writeInline(buf, n, source)
			if dest := string(n.Destination); dest != "" {
				buf.WriteString(" (" + dest + ")")
			}
		default:
			writeInline(buf, n, source)
		}
	}
}

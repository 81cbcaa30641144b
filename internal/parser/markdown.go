package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ParseMarkdown strips frontmatter and markup, returning the plain text
// a reader would see: heading, emphasis, and link text survive; image
// markup is dropped; code keeps its literal content.
func ParseMarkdown(source []byte) (string, error) {
	_, body := SplitFrontmatter(source)

	md := goldmark.New()
	reader := text.NewReader(body)
	doc := md.Parser().Parse(reader)

	var b strings.Builder

	err := ast.Walk(doc, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		switch n := node.(type) {
		case *ast.Image:
			// Alt text of images is markup, not content.
			if entering {
				return ast.WalkSkipChildren, nil
			}
		case *ast.Text:
			if entering {
				b.Write(n.Segment.Value(body))
				if n.SoftLineBreak() || n.HardLineBreak() {
					b.WriteByte('\n')
				}
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				writeCodeLines(&b, node, body)
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			if entering {
				b.Write(n.URL(body))
			}
		default:
			if !entering && isBlock(node) {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}

	return collapseWhitespace(b.String()), nil
}

func isBlock(node ast.Node) bool {
	switch node.(type) {
	case *ast.Paragraph, *ast.Heading, *ast.ListItem, *ast.Blockquote, *ast.List:
		return true
	default:
		return false
	}
}

func writeCodeLines(b *strings.Builder, node ast.Node, source []byte) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(source))
	}
	b.WriteString("\n\n")
}

// SplitFrontmatter separates a leading YAML frontmatter block from the
// document body. Keys are parsed flat as "key: value" pairs; nested
// structures are left to the metadata consumer.
func SplitFrontmatter(source []byte) (map[string]string, []byte) {
	content := string(source)
	if !strings.HasPrefix(content, "---") {
		return nil, source
	}

	rest := content[3:]
	if !strings.HasPrefix(rest, "\n") && !strings.HasPrefix(rest, "\r\n") {
		return nil, source
	}

	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, source
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = ""
	}

	meta := map[string]string{}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		meta[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return meta, []byte(body)
}

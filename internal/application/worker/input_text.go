package worker

import (
	"fmt"
	"strings"

	"embeddingjob/internal/domain/entity"

	"github.com/pkoukk/tiktoken-go"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Tokenizer truncates text to a token budget.
type Tokenizer interface {
	Truncate(text string, maxTokens int) string
}

// TiktokenTokenizer counts tokens with the cl100k_base encoding used by the
// OpenAI embedding models.
type TiktokenTokenizer struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads the cl100k_base encoding.
func NewTiktokenTokenizer() (*TiktokenTokenizer, error) {
	encoding, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}
	return &TiktokenTokenizer{encoding: encoding}, nil
}

// Truncate returns the longest token prefix of text within maxTokens.
func (t *TiktokenTokenizer) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	tokens := t.encoding.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return t.encoding.Decode(tokens[:maxTokens])
}

// InputTextBuilder renders the text embedded for a document.
type InputTextBuilder struct {
	tokenizer Tokenizer
	maxTokens int
}

// NewInputTextBuilder creates a builder. A nil tokenizer or a non-positive
// maxTokens disables truncation.
func NewInputTextBuilder(tokenizer Tokenizer, maxTokens int) *InputTextBuilder {
	return &InputTextBuilder{tokenizer: tokenizer, maxTokens: maxTokens}
}

// Build returns "Title: <headline>, Standfirst: <standfirst>, Body: <plain body>".
func (b *InputTextBuilder) Build(doc *entity.Document) string {
	text := fmt.Sprintf("Title: %s, Standfirst: %s, Body: %s", doc.Headline, doc.Standfirst, PlainBody(doc.Body))
	if b.tokenizer != nil && b.maxTokens > 0 {
		text = b.tokenizer.Truncate(text, b.maxTokens)
	}
	return text
}

// PlainBody concatenates the HTML of the text blocks and converts it to
// single-spaced plain text. Other block types are dropped.
func PlainBody(blocks []entity.ContentBlock) string {
	var fragment strings.Builder
	for _, block := range blocks {
		if block.Type != entity.ContentBlockTypeText {
			continue
		}
		fragment.WriteString(block.HTML)
		fragment.WriteByte('\n')
	}
	return HTMLToText(fragment.String())
}

// Elements that end a run of text.
var blockElements = map[atom.Atom]bool{ //nolint:gochecknoglobals // lookup table
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Ul: true, atom.Ol: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Blockquote: true, atom.Tr: true, atom.Td: true, atom.Th: true, atom.Figcaption: true,
}

// HTMLToText extracts the text of an HTML fragment with whitespace runs
// collapsed to single spaces.
func HTMLToText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	parent := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return collapseWhitespace(fragment)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
		case html.ElementNode:
			if n.DataAtom == atom.Script || n.DataAtom == atom.Style {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] {
			b.WriteByte(' ')
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return collapseWhitespace(b.String())
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Package pageindex builds a heading-based section tree from cleaned
// Markdown and answers substring queries against it.
package pageindex

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/forensicdocflow/internal/validation"
)

// linesPerPage is the coarse estimate used for TreeNode page numbers.
const linesPerPage = 50

var atxHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// NodeType classifies a node by heading depth.
type NodeType string

const (
	NodeTitle      NodeType = "title"
	NodeSection    NodeType = "section"
	NodeSubsection NodeType = "subsection"
	NodeParagraph  NodeType = "paragraph"
)

func nodeTypeForLevel(level int) NodeType {
	switch level {
	case 1:
		return NodeSection
	case 2:
		return NodeSubsection
	default:
		return NodeParagraph
	}
}

// NodeMetadata annotates a single node.
type NodeMetadata struct {
	Page       int      `json:"page"`
	Type       NodeType `json:"type"`
	CaseNumber string   `json:"case_number,omitempty"`
}

// TreeNode is one heading and the body text that follows it.
type TreeNode struct {
	ID       string       `json:"id"`
	Title    string       `json:"title"`
	Level    int          `json:"level"`
	Content  string       `json:"content"`
	Children []*TreeNode  `json:"children"`
	Metadata NodeMetadata `json:"metadata"`
}

// Metadata is supplied by the caller and copied onto the tree.
type Metadata struct {
	CaseNumber string
	Court      string
}

// TreeMetadata aggregates counts over the whole tree.
type TreeMetadata struct {
	CaseNumber      string `json:"case_number,omitempty"`
	Court           string `json:"court,omitempty"`
	TotalSections   int    `json:"total_sections"`
	TotalParagraphs int    `json:"total_paragraphs"`
	Depth           int    `json:"depth"`
}

// Tree is the PageIndex of a document. Root is a synthetic level-0 node.
type Tree struct {
	Root     *TreeNode    `json:"root"`
	Metadata TreeMetadata `json:"metadata"`
}

func newNode(id, title string, level int, meta NodeMetadata) *TreeNode {
	return &TreeNode{
		ID:       id,
		Title:    title,
		Level:    level,
		Children: []*TreeNode{},
		Metadata: meta,
	}
}

// BuildTree parses markdown into a Tree. Running headers and footers are
// filtered again before parsing, so raw OCR output is also acceptable.
//
// A heading at level L is attached to the nearest open ancestor whose level
// is below L; the synthetic root is never popped.
func BuildTree(markdown string, meta Metadata) *Tree {
	lines := validation.FilterRepeatedLines(strings.Split(markdown, "\n"))

	root := newNode("root", "Document", 0, NodeMetadata{Type: NodeTitle, CaseNumber: meta.CaseNumber})
	stack := []*TreeNode{root}
	sections, paragraphs, depth := 0, 0, 0

	for idx, line := range lines {
		if m := atxHeadingRe.FindStringSubmatch(line); m != nil {
			level := len(m[1])
			for len(stack) > 1 && stack[len(stack)-1].Level >= level {
				stack = stack[:len(stack)-1]
			}

			node := newNode(fmt.Sprintf("section-%d", sections), strings.TrimSpace(m[2]), level, NodeMetadata{
				Page:       idx / linesPerPage,
				Type:       nodeTypeForLevel(level),
				CaseNumber: meta.CaseNumber,
			})
			parent := stack[len(stack)-1]
			parent.Children = append(parent.Children, node)
			stack = append(stack, node)

			sections++
			if d := len(stack) - 1; d > depth {
				depth = d
			}
			continue
		}

		if strings.TrimSpace(line) == "" {
			continue
		}
		current := stack[len(stack)-1]
		if current.Content == "" {
			current.Content = line
		} else {
			current.Content += "\n" + line
		}
		paragraphs++
	}

	return &Tree{
		Root: root,
		Metadata: TreeMetadata{
			CaseNumber:      meta.CaseNumber,
			Court:           meta.Court,
			TotalSections:   sections,
			TotalParagraphs: paragraphs,
			Depth:           depth,
		},
	}
}

// DefaultMaxResults applies when Search is called with maxResults <= 0.
const DefaultMaxResults = 5

// Search walks the tree pre-order and returns up to maxResults nodes whose
// title or content contains query, ignoring case. A matching node's subtree
// is not searched.
func Search(tree *Tree, query string, maxResults int) []*TreeNode {
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	if tree == nil || tree.Root == nil {
		return nil
	}
	needle := strings.ToLower(query)
	results := make([]*TreeNode, 0, maxResults)

	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if len(results) >= maxResults {
			return
		}
		if strings.Contains(strings.ToLower(n.Title), needle) ||
			strings.Contains(strings.ToLower(n.Content), needle) {
			results = append(results, n)
			return
		}
		for _, child := range n.Children {
			walk(child)
			if len(results) >= maxResults {
				return
			}
		}
	}
	walk(tree.Root)
	return results
}

// Summarize renders a short header block and an indented table of contents.
func Summarize(tree *Tree) (summary, toc string) {
	orUnknown := func(s string) string {
		if s == "" {
			return "not detected"
		}
		return s
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s\n", tree.Root.Title)
	fmt.Fprintf(&sb, "Case number: %s\n", orUnknown(tree.Metadata.CaseNumber))
	fmt.Fprintf(&sb, "Court: %s\n", orUnknown(tree.Metadata.Court))
	fmt.Fprintf(&sb, "Sections: %d\n", tree.Metadata.TotalSections)
	fmt.Fprintf(&sb, "Depth: %d\n", tree.Metadata.Depth)

	var tb strings.Builder
	tb.WriteString("# Table of Contents\n\n")
	var walk func(n *TreeNode, depth int)
	walk = func(n *TreeNode, depth int) {
		if depth > 0 {
			fmt.Fprintf(&tb, "%s- %s\n", strings.Repeat("  ", depth-1), n.Title)
		}
		for _, child := range n.Children {
			walk(child, depth+1)
		}
	}
	walk(tree.Root, 0)

	return sb.String(), tb.String()
}

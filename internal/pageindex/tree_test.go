package pageindex

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func titles(nodes []*TreeNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Title)
	}
	return out
}

func TestBuildTree_LevelNesting(t *testing.T) {
	tree := BuildTree("# A\n## B\n## C\n# D", Metadata{})

	require.Equal(t, []string{"A", "D"}, titles(tree.Root.Children))
	a := tree.Root.Children[0]
	require.Equal(t, []string{"B", "C"}, titles(a.Children))
	require.Empty(t, tree.Root.Children[1].Children)
	require.Equal(t, 4, tree.Metadata.TotalSections)
	require.Equal(t, 2, tree.Metadata.Depth)
}

func TestBuildTree_SkippedLevelsAttachToNearestAncestor(t *testing.T) {
	tree := BuildTree("## Intro\n# Part\n### Detail\n## Section", Metadata{})

	require.Equal(t, []string{"Intro", "Part"}, titles(tree.Root.Children))
	part := tree.Root.Children[1]
	require.Equal(t, []string{"Detail", "Section"}, titles(part.Children))
}

func TestBuildTree_ContentAndMetadata(t *testing.T) {
	md := "Preamble line\n# Hechos\nPrimer hecho.\n\nSegundo hecho.\n## Detalle\nTexto."
	tree := BuildTree(md, Metadata{CaseNumber: "2024-001", Court: "Civil"})

	require.Equal(t, "Preamble line", tree.Root.Content)
	hechos := tree.Root.Children[0]
	require.Equal(t, "Primer hecho.\nSegundo hecho.", hechos.Content)
	require.Equal(t, NodeSection, hechos.Metadata.Type)
	require.Equal(t, "section-0", hechos.ID)
	require.Equal(t, "2024-001", hechos.Metadata.CaseNumber)

	detalle := hechos.Children[0]
	require.Equal(t, NodeSubsection, detalle.Metadata.Type)
	require.Equal(t, "section-1", detalle.ID)

	require.Equal(t, 4, tree.Metadata.TotalParagraphs)
	require.Equal(t, "Civil", tree.Metadata.Court)
	require.Equal(t, NodeTitle, tree.Root.Metadata.Type)
}

func TestBuildTree_FiltersRunningFooters(t *testing.T) {
	md := "# One\nbody one\nFooter 1\n# Two\nbody two\nFooter 2\n# Three\nbody three\nFooter 3"
	tree := BuildTree(md, Metadata{})
	for _, n := range tree.Root.Children {
		require.NotContains(t, n.Content, "Footer")
	}
}

func TestSearch_ShortCircuit(t *testing.T) {
	tree := BuildTree("# Contract\nparty obligations\n## Contract annex\nmore contract text", Metadata{})

	hits := Search(tree, "CONTRACT", 1)
	require.Len(t, hits, 1)
	require.Equal(t, "Contract", hits[0].Title)

	// The annex is inside the matched subtree and is never reached.
	hits = Search(tree, "contract", 10)
	require.Equal(t, []string{"Contract"}, titles(hits))
}

func TestSearch_PreOrderAcrossBranches(t *testing.T) {
	tree := BuildTree("# A\n## fee one\n# B\n## fee two\n# C\n## fee three", Metadata{})

	hits := Search(tree, "fee", 2)
	require.Equal(t, []string{"fee one", "fee two"}, titles(hits))

	require.Len(t, Search(tree, "fee", 0), 3)
	require.Empty(t, Search(tree, "absent", 5))
}

func TestSerializeRoundTrip(t *testing.T) {
	md := strings.Join([]string{
		"Intro text",
		"# Sentencia",
		"Considerando primero.",
		"## Antecedentes",
		"Hecho uno.",
		"### Pruebas",
		"Documental.",
		"# Resolutivos",
		"Se resuelve.",
	}, "\n")
	tree := BuildTree(md, Metadata{CaseNumber: "2023-77", Court: "Distrito"})

	data, err := Serialize(tree)
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, tree, back)
}

func TestSerializeRoundTrip_EmptyDocument(t *testing.T) {
	tree := BuildTree("", Metadata{})
	data, err := Serialize(tree)
	require.NoError(t, err)

	back, err := Deserialize(data)
	require.NoError(t, err)
	require.Equal(t, tree, back)
}

func TestDeserialize_RejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":      "{not json",
		"no root":       `{"metadata":{"total_sections":0,"total_paragraphs":0,"depth":0}}`,
		"unknown field": `{"root":{"id":"root","title":"Document","level":0,"content":"","children":[],"metadata":{"page":0,"type":"title"}},"extra":1}`,
		"bad nesting":   `{"root":{"id":"root","title":"Document","level":0,"content":"","children":[{"id":"x","title":"x","level":0,"content":"","children":[],"metadata":{"page":0,"type":"section"}}],"metadata":{"page":0,"type":"title"}}}`,
		"missing id":    `{"root":{"id":"","title":"Document","level":0,"content":"","children":[],"metadata":{"page":0,"type":"title"}}}`,
		"trailing":      `{"root":{"id":"root","title":"Document","level":0,"content":"","children":[],"metadata":{"page":0,"type":"title"}}} {}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			tree, err := Deserialize(input)
			require.Nil(t, tree)
			require.True(t, errors.Is(err, ErrInvalidTreeFormat), "got %v", err)
		})
	}
}

func TestSummarize(t *testing.T) {
	tree := BuildTree("# A\n## B\n# C", Metadata{CaseNumber: "2022-9"})
	summary, toc := Summarize(tree)

	require.Contains(t, summary, "Case number: 2022-9")
	require.Contains(t, summary, "Court: not detected")
	require.Contains(t, summary, "Sections: 3")
	require.Equal(t, "# Table of Contents\n\n- A\n  - B\n- C\n", toc)
}

package validation

import (
	"regexp"
	"strings"
)

// tableSeparatorRe matches a Markdown table separator row such as |---|:--:|.
var tableSeparatorRe = regexp.MustCompile(`^\|?\s*[-:\s]+(\|\s*[-:\s]+)+\|?\s*$`)

// IsTableSeparator reports whether line is a table separator row.
func IsTableSeparator(line string) bool {
	return tableSeparatorRe.MatchString(strings.TrimSpace(line))
}

func isTableLine(line string) bool {
	return strings.Contains(line, "|") && len(strings.TrimSpace(line)) > 1
}

func tableCells(row string) []string {
	var cells []string
	for _, c := range strings.Split(row, "|") {
		if c = strings.TrimSpace(c); c != "" {
			cells = append(cells, c)
		}
	}
	return cells
}

// RepairTables scans for runs of pipe-bearing lines and fixes the ones that
// lack a separator row. It returns the repaired text and the number of blocks
// it had to change. Running it on its own output changes nothing.
func RepairTables(markdown string) (string, int) {
	lines := strings.Split(markdown, "\n")
	out := make([]string, 0, len(lines)+8)
	fixed := 0

	for i := 0; i < len(lines); {
		if !isTableLine(lines[i]) {
			out = append(out, lines[i])
			i++
			continue
		}
		start := i
		for i < len(lines) && isTableLine(lines[i]) {
			i++
		}
		repaired, changed := repairTableBlock(lines[start:i])
		out = append(out, repaired...)
		if changed {
			fixed++
		}
	}
	return strings.Join(out, "\n"), fixed
}

func repairTableBlock(block []string) ([]string, bool) {
	for _, row := range block {
		if IsTableSeparator(row) {
			return block, false
		}
	}

	// No separator. A first row with two or more cells is a header we can
	// complete; anything narrower was never a table.
	cellCount := len(tableCells(block[0]))
	if cellCount >= 2 {
		out := make([]string, 0, len(block)+1)
		out = append(out, block[0], "|"+strings.Repeat(" --- |", cellCount))
		out = append(out, block[1:]...)
		return out, true
	}

	out := make([]string, 0, len(block))
	for _, row := range block {
		out = append(out, strings.Join(tableCells(row), " – "))
	}
	return out, true
}

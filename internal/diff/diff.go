// Package diff renders unified diffs of file edits so tool results can
// show exactly what changed. Line-level diffs come from the sergi/go-diff
// engine; this package groups them into hunks with context.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// LineType classifies one diff line.
type LineType int

const (
	LineContext LineType = iota
	LineAdded
	LineRemoved
)

// Line is a single line of a hunk.
type Line struct {
	Type    LineType
	Content string
}

// Hunk is one run of changes plus surrounding context, with the usual
// unified-diff coordinates.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// Compute returns the hunks separating old from new content, each padded
// with context unchanged lines. Identical inputs yield nil.
func Compute(oldContent, newContent string, context int) []Hunk {
	if oldContent == newContent {
		return nil
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0

	// Line-level reduction avoids newline boundary artifacts when the
	// diffs are converted back to line operations.
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	return group(toOperations(diffs), context)
}

// Unified renders the difference between two versions of path in the
// standard ---/+++ hunk format. Identical inputs yield "".
func Unified(path, oldContent, newContent string) string {
	hunks := Compute(oldContent, newContent, 3)
	if len(hunks) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "--- a/%s\n+++ b/%s\n", path, path)
	for _, h := range hunks {
		fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, line := range h.Lines {
			switch line.Type {
			case LineAdded:
				sb.WriteString("+")
			case LineRemoved:
				sb.WriteString("-")
			default:
				sb.WriteString(" ")
			}
			sb.WriteString(line.Content)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Stats counts added and removed lines across hunks.
func Stats(hunks []Hunk) (added, removed int) {
	for _, h := range hunks {
		for _, line := range h.Lines {
			switch line.Type {
			case LineAdded:
				added++
			case LineRemoved:
				removed++
			}
		}
	}
	return added, removed
}

// operation is one line operation with 1-based line numbers; a zero line
// number means the line does not exist on that side.
type operation struct {
	typ     LineType
	oldLine int
	newLine int
	content string
}

func toOperations(diffs []diffmatchpatch.Diff) []operation {
	var ops []operation
	oldLine, newLine := 0, 0

	for _, d := range diffs {
		for _, line := range splitLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				oldLine++
				newLine++
				ops = append(ops, operation{LineContext, oldLine, newLine, line})
			case diffmatchpatch.DiffDelete:
				oldLine++
				ops = append(ops, operation{LineRemoved, oldLine, 0, line})
			case diffmatchpatch.DiffInsert:
				newLine++
				ops = append(ops, operation{LineAdded, 0, newLine, line})
			}
		}
	}
	return ops
}

// splitLines splits diff text into lines, dropping the empty remainder a
// trailing newline leaves behind.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// group collects the index span around each run of changes, merges spans
// whose context overlaps, and builds one hunk per span.
func group(ops []operation, context int) []Hunk {
	var spans [][2]int
	for i, op := range ops {
		if op.typ == LineContext {
			continue
		}
		start := i - context
		if start < 0 {
			start = 0
		}
		end := i + context + 1
		if end > len(ops) {
			end = len(ops)
		}
		if n := len(spans); n > 0 && start <= spans[n-1][1] {
			spans[n-1][1] = end
		} else {
			spans = append(spans, [2]int{start, end})
		}
	}

	hunks := make([]Hunk, 0, len(spans))
	for _, s := range spans {
		hunks = append(hunks, buildHunk(ops[s[0]:s[1]]))
	}
	return hunks
}

func buildHunk(ops []operation) Hunk {
	h := Hunk{Lines: make([]Line, 0, len(ops))}
	for _, op := range ops {
		if h.OldStart == 0 && op.oldLine > 0 {
			h.OldStart = op.oldLine
		}
		if h.NewStart == 0 && op.newLine > 0 {
			h.NewStart = op.newLine
		}
		if op.typ == LineRemoved || op.typ == LineContext {
			h.OldCount++
		}
		if op.typ == LineAdded || op.typ == LineContext {
			h.NewCount++
		}
		h.Lines = append(h.Lines, Line{Type: op.typ, Content: op.content})
	}
	return h
}

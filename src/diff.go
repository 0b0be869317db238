package src

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"strings"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorCyan  = "\033[36m"
	colorGray  = "\033[90m"
	colorBold  = "\033[1m"
)

const diffContext = 3

// diffLine is a single line of an edit sequence.
type diffLine struct {
	op   byte // ' ' common, '-' removed, '+' added
	text string
}

// Diff renders a colorized git-style unified diff between two versions of
// a file. Equal contents yield the empty string; a new file diffs against
// an empty baseline so creation reviews look like any other change.
func Diff(path, original, suggested string) string {
	if original == suggested {
		return ""
	}

	oldB, newB := []byte(original), []byte(suggested)
	seq := computeEdits(splitLines(oldB), splitLines(newB))

	var out strings.Builder
	out.WriteString(fmt.Sprintf("%sdiff --git a/%s b/%s%s\n", colorBold+colorCyan, path, path, colorReset))
	out.WriteString(fmt.Sprintf("index %s..%s 100644\n", shortSHA(oldB), shortSHA(newB)))
	out.WriteString(fmt.Sprintf("%s--- a/%s%s\n", colorCyan, path, colorReset))
	out.WriteString(fmt.Sprintf("%s+++ b/%s%s\n", colorCyan, path, colorReset))
	renderHunks(&out, seq)
	return out.String()
}

// computeEdits builds the line edit sequence via an LCS table.
func computeEdits(oldLines, newLines []string) []diffLine {
	n, m := len(oldLines), len(newLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			switch {
			case oldLines[i] == newLines[j]:
				lcs[i][j] = lcs[i+1][j+1] + 1
			case lcs[i+1][j] >= lcs[i][j+1]:
				lcs[i][j] = lcs[i+1][j]
			default:
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var seq []diffLine
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldLines[i] == newLines[j]:
			seq = append(seq, diffLine{' ', oldLines[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			seq = append(seq, diffLine{'-', oldLines[i]})
			i++
		default:
			seq = append(seq, diffLine{'+', newLines[j]})
			j++
		}
	}
	for ; i < n; i++ {
		seq = append(seq, diffLine{'-', oldLines[i]})
	}
	for ; j < m; j++ {
		seq = append(seq, diffLine{'+', newLines[j]})
	}
	return seq
}

// renderHunks groups the edit sequence into @@ hunks with surrounding
// context lines and writes them colorized.
func renderHunks(out *strings.Builder, seq []diffLine) {
	// Line number on each side before consuming seq[idx].
	oldPos := make([]int, len(seq)+1)
	newPos := make([]int, len(seq)+1)
	oldPos[0], newPos[0] = 1, 1
	for idx, e := range seq {
		oldPos[idx+1] = oldPos[idx]
		newPos[idx+1] = newPos[idx]
		if e.op != '+' {
			oldPos[idx+1]++
		}
		if e.op != '-' {
			newPos[idx+1]++
		}
	}

	var hunk []diffLine
	hunkStart := 0

	flush := func() {
		if len(hunk) == 0 {
			return
		}
		countOld, countNew := 0, 0
		for _, e := range hunk {
			if e.op != '+' {
				countOld++
			}
			if e.op != '-' {
				countNew++
			}
		}
		out.WriteString(fmt.Sprintf("%s@@ -%d,%d +%d,%d @@%s\n",
			colorCyan, oldPos[hunkStart], countOld, newPos[hunkStart], countNew, colorReset))
		for _, e := range hunk {
			switch e.op {
			case '+':
				out.WriteString(fmt.Sprintf("%s+%s%s\n", colorGreen, e.text, colorReset))
			case '-':
				out.WriteString(fmt.Sprintf("%s-%s%s\n", colorRed, e.text, colorReset))
			default:
				out.WriteString(fmt.Sprintf("%s %s%s\n", colorGray, e.text, colorReset))
			}
		}
		hunk = hunk[:0]
	}

	inHunk := false
	for idx, e := range seq {
		if e.op != ' ' {
			if !inHunk {
				inHunk = true
				hunkStart = max(0, idx-diffContext)
				hunk = append(hunk, seq[hunkStart:idx]...)
			}
			hunk = append(hunk, e)
			continue
		}
		if !inHunk {
			continue
		}
		hunk = append(hunk, e)
		end := min(idx+diffContext+1, len(seq))
		if !hasChangeAhead(seq[idx+1 : end]) {
			flush()
			inHunk = false
		}
	}
	if inHunk {
		flush()
	}
}

// hasChangeAhead checks whether the lookahead window still holds +/- lines.
func hasChangeAhead(next []diffLine) bool {
	for _, e := range next {
		if e.op == '+' || e.op == '-' {
			return true
		}
	}
	return false
}

// splitLines normalizes CRLF and splits into lines without the trailing
// newline. Empty content yields no lines, keeping creation diffs clean.
func splitLines(b []byte) []string {
	if len(b) == 0 {
		return nil
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	raw := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	for i := range raw {
		raw[i] = strings.TrimRight(raw[i], "\r")
	}
	return raw
}

// shortSHA returns the short SHA1-like index label used in diff headers.
func shortSHA(b []byte) string {
	h := sha1.Sum(b)
	return fmt.Sprintf("%x", h[:3]) // 6 hex chars, like Git short hash
}

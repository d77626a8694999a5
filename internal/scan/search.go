package scan

import "strings"

// Position is a 0-indexed line/column pair.
type Position struct {
	Line   int
	Column int
}

// FindWholeWord returns every case-insensitive, word-boundary-respecting
// occurrence of word in text, restricted to code ranges (occurrences
// inside comments and string literals are ignored).
func FindWholeWord(text, word string) []Position {
	if word == "" {
		return nil
	}

	var matches []Position
	ranges := CodeRanges(text)

	lineStart := 0
	for lineNum, lineRanges := range ranges {
		lineEnd := lineStart
		for lineEnd < len(text) && text[lineEnd] != '\n' {
			lineEnd++
		}
		line := text[lineStart:lineEnd]

		for _, r := range lineRanges {
			matches = appendWordMatches(matches, line, lineNum, r, word)
		}

		lineStart = lineEnd + 1
	}
	return matches
}

// appendWordMatches scans one code range of a line for whole-word matches.
func appendWordMatches(matches []Position, line string, lineNum int, r CodeRange, word string) []Position {
	end := r.End
	if end > len(line) {
		end = len(line)
	}
	for i := r.Start; i+len(word) <= end; i++ {
		if !strings.EqualFold(line[i:i+len(word)], word) {
			continue
		}
		if i > r.Start && IsIdentChar(line[i-1]) {
			continue
		}
		if i+len(word) < end && IsIdentChar(line[i+len(word)]) {
			continue
		}
		matches = append(matches, Position{Line: lineNum, Column: i})
		i += len(word) - 1
	}
	return matches
}

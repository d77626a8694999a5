package scan

// CodeRange is a byte span within one line that is neither inside a
// string literal nor a comment.
type CodeRange struct {
	Start int
	End   int
}

// CodeRanges classifies every line of text into code spans, carrying
// block-comment state across line boundaries. The result has one slice
// per line; a line that is entirely comment or string yields an empty
// slice. Macro directives are recognized elsewhere by raw line prefix and
// do not use this.
func CodeRanges(text string) [][]CodeRange {
	var out [][]CodeRange
	inBlock := false

	start := 0
	for start <= len(text) {
		end := start
		for end < len(text) && text[end] != '\n' {
			end++
		}
		var ranges []CodeRange
		ranges, inBlock = lineCodeRanges(text[start:end], inBlock)
		out = append(out, ranges)
		if end >= len(text) {
			break
		}
		start = end + 1
	}
	return out
}

// lineCodeRanges computes the code spans of a single line given the
// block-comment state at its start, returning the state at its end.
func lineCodeRanges(line string, inBlock bool) ([]CodeRange, bool) {
	ranges := []CodeRange{}
	codeStart := 0
	i := 0

	flush := func(end int) {
		if !inBlock && end > codeStart {
			ranges = append(ranges, CodeRange{Start: codeStart, End: end})
		}
	}

	for i < len(line) {
		if inBlock {
			if line[i] == '*' && i+1 < len(line) && line[i+1] == '/' {
				inBlock = false
				i += 2
				codeStart = i
				continue
			}
			i++
			continue
		}

		switch c := line[i]; c {
		case '/':
			if i+1 < len(line) && line[i+1] == '/' {
				flush(i)
				return ranges, false
			}
			if i+1 < len(line) && line[i+1] == '*' {
				flush(i)
				inBlock = true
				i += 2
				continue
			}
			i++

		case '"', '\'':
			flush(i)
			i++
			for i < len(line) {
				if line[i] == '\\' && i+1 < len(line) {
					i += 2
					continue
				}
				if line[i] == c {
					i++
					break
				}
				i++
			}
			codeStart = i

		default:
			i++
		}
	}
	flush(len(line))
	return ranges, inBlock
}

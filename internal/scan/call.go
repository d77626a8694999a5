package scan

// CallContext describes the function call enclosing a cursor: the callee
// name and which argument the cursor is inside.
type CallContext struct {
	Function        string
	ActiveParameter int
}

// CallContextAt scans backward from the absolute byte offset to find the
// nearest enclosing unmatched '(' and the identifier before it. Top-level
// commas seen on the way become the active parameter index. String
// literals are skipped backward with escaped-quote handling. Returns
// false when the offset is not inside any call.
func CallContextAt(text string, offset int) (CallContext, bool) {
	if offset < 0 || offset > len(text) {
		return CallContext{}, false
	}

	depth := 0
	commas := 0
	for i := offset - 1; i >= 0; i-- {
		switch c := text[i]; c {
		case '"', '\'':
			open := matchingOpeningQuote(text, i)
			if open < 0 {
				// The cursor sits inside an unterminated string.
				return CallContext{}, false
			}
			i = open

		case ')':
			depth++

		case '(':
			if depth > 0 {
				depth--
				continue
			}
			name := identBefore(text, i)
			if name == "" {
				// Grouping parenthesis: the cursor is inside an argument
				// expression, so commas counted so far belong to the group.
				commas = 0
				continue
			}
			return CallContext{Function: name, ActiveParameter: commas}, true

		case ',':
			if depth == 0 {
				commas++
			}
		}
	}
	return CallContext{}, false
}

// matchingOpeningQuote returns the index of the quote that opens the
// string terminated by the quote at index end. A quote preceded by an
// odd number of backslashes is escaped and does not terminate the string.
func matchingOpeningQuote(text string, end int) int {
	quote := text[end]
	for i := end - 1; i >= 0; i-- {
		if text[i] != quote {
			continue
		}
		backslashes := 0
		for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 == 0 {
			return i
		}
	}
	return -1
}

// identBefore returns the identifier immediately preceding index i,
// skipping whitespace between the identifier and i.
func identBefore(text string, i int) string {
	end := i
	for end > 0 && (text[end-1] == ' ' || text[end-1] == '\t') {
		end--
	}
	start := end
	for start > 0 && IsIdentChar(text[start-1]) {
		start--
	}
	return text[start:end]
}

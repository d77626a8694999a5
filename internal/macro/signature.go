package macro

import (
	"hash/fnv"
	"strings"
)

// IncludeSignature hashes every raw #include line of text, in order,
// after trimming surrounding whitespace. It is a pure function of the
// document text and serves as the cheap first-pass cache key: two texts
// with the same signature pull in the same headers.
func IncludeSignature(text string) uint64 {
	h := fnv.New64a()
	forEachLine(text, func(line string, _ int) {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#include") {
			h.Write([]byte(trimmed))
			h.Write([]byte{'\n'})
		}
	})
	return h.Sum64()
}

// forEachLine calls fn for every physical line of text with its 1-indexed
// line number. A final line without a trailing newline is still visited.
func forEachLine(text string, fn func(line string, num int)) {
	num := 1
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			fn(strings.TrimSuffix(text[start:i], "\r"), num)
			num++
			start = i + 1
		}
	}
	if start < len(text) {
		fn(strings.TrimSuffix(text[start:], "\r"), num)
	}
}

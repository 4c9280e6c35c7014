package ingest

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkSize is the target chunk length in runes.
	DefaultChunkSize = 800
	// DefaultChunkOverlap is how many runes of trailing context a chunk
	// repeats from its predecessor.
	DefaultChunkOverlap = 100
)

// Split breaks text into chunks of at most size runes, preferring paragraph
// and then word boundaries. Consecutive chunks share up to overlap runes of
// whole words. A single word longer than size is cut at size runes.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var words []string
	for i, para := range paragraphs(text) {
		if i > 0 {
			words = append(words, "\n\n")
		}
		for _, w := range strings.Fields(para) {
			words = append(words, cutLong(w, size)...)
		}
	}

	var chunks []string
	var cur []string
	curLen := 0
	flush := func() {
		c := strings.TrimSpace(join(cur))
		if c != "" {
			chunks = append(chunks, c)
		}
	}

	for _, w := range words {
		wl := utf8.RuneCountInString(w)
		sep := 0
		if len(cur) > 0 && w != "\n\n" && cur[len(cur)-1] != "\n\n" {
			sep = 1
		}
		if curLen+sep+wl > size && len(cur) > 0 {
			flush()
			cur = tail(cur, overlap)
			curLen = runeLen(cur)
			if curLen+1+wl > size {
				cur, curLen = nil, 0
			}
			sep = 0
			if len(cur) > 0 && w != "\n\n" {
				sep = 1
			}
		}
		if w == "\n\n" && len(cur) == 0 {
			continue
		}
		cur = append(cur, w)
		curLen += sep + wl
	}
	flush()
	return chunks
}

func paragraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

func cutLong(w string, size int) []string {
	if utf8.RuneCountInString(w) <= size {
		return []string{w}
	}
	var out []string
	r := []rune(w)
	for len(r) > size {
		out = append(out, string(r[:size]))
		r = r[size:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

// tail returns the trailing words of cur that fit in n runes, never
// starting at a paragraph break.
func tail(cur []string, n int) []string {
	if n <= 0 {
		return nil
	}
	total := 0
	i := len(cur)
	for i > 0 {
		w := cur[i-1]
		if w == "\n\n" {
			break
		}
		l := utf8.RuneCountInString(w)
		if total > 0 {
			l++
		}
		if total+l > n {
			break
		}
		total += l
		i--
	}
	return append([]string(nil), cur[i:]...)
}

func join(words []string) string {
	var b strings.Builder
	for i, w := range words {
		if i > 0 && w != "\n\n" && words[i-1] != "\n\n" {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	return b.String()
}

func runeLen(words []string) int {
	return utf8.RuneCountInString(join(words))
}

package ingest

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{"empty", "", 10, 0, nil},
		{"whitespace", " \n\n \t", 10, 0, nil},
		{"fits", "Jane knows Python", 40, 0, []string{"Jane knows Python"}},
		{"word boundaries", "alpha beta gamma delta", 11, 0, []string{"alpha beta", "gamma delta"}},
		{"overlap", "Alpha beta gamma.\n\nDelta epsilon zeta eta theta.", 20, 6,
			[]string{"Alpha beta gamma.", "Delta epsilon zeta", "zeta eta theta."}},
		{"paragraphs kept together", "one two\n\nthree", 20, 0, []string{"one two\n\nthree"}},
		{"long word cut", "abcdefghij", 4, 0, []string{"abcd", "efgh", "ij"}},
		{"normalises spaces", "a   b\tc\nd", 20, 0, []string{"a b c d"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.size, tt.overlap)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplit_Bounds(t *testing.T) {
	text := strings.Repeat("Engineers in the Berlin office maintain the payroll pipeline. ", 40)
	chunks := Split(text, 120, 30)
	if len(chunks) < 10 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	words := 0
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n == 0 || n > 120 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		words += len(strings.Fields(c))
	}
	if words < len(strings.Fields(text)) {
		t.Errorf("chunks hold %d words, text has %d", words, len(strings.Fields(text)))
	}
}

func TestSplit_Defaults(t *testing.T) {
	text := strings.Repeat("word ", 400)
	for _, c := range Split(text, 0, -1) {
		if utf8.RuneCountInString(c) > DefaultChunkSize {
			t.Fatalf("chunk exceeds default size")
		}
	}
}

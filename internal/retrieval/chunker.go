package retrieval

import (
	"regexp"
	"strings"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

var multiNewline = regexp.MustCompile(`\n{3,}`)

// CleanText normalizes document text before chunking: CRLF to LF, runs of
// blank lines collapsed, surrounding whitespace trimmed.
func CleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = multiNewline.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// ChunkText splits cleaned text into windows of at most size runes with the
// requested overlap between neighbors. A window ending mid-sentence is
// shortened to the nearest sentence or newline boundary past its midpoint,
// so a fact is almost never cut in half; the overlap catches the ones that
// are anyway. Working in runes keeps UTF-8 sequences intact.
//
// Reconstruction holds: chunk i+1 always begins with the last overlap runes
// of chunk i, so concatenating chunks minus overlaps yields the input.
func ChunkText(text string, size, overlap int) []string {
	r := []rune(text)
	if len(r) == 0 {
		return nil
	}

	if size < 200 {
		size = 200
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size/2 {
		overlap = size / 5
	}

	out := []string{}
	start := 0
	for {
		end := start + size
		if end >= len(r) {
			out = append(out, string(r[start:]))
			return out
		}

		if b := boundaryBefore(r, start+size/2, end); b > 0 {
			end = b
		}

		out = append(out, string(r[start:end]))
		start = end - overlap
	}
}

// boundaryBefore returns the index just past the last sentence/newline
// boundary in r[from:to], or 0 when there is none.
func boundaryBefore(r []rune, from, to int) int {
	for i := to - 1; i >= from; i-- {
		switch r[i] {
		case '.', '!', '?', '\n':
			return i + 1
		}
	}
	return 0
}

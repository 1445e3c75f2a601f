package repos

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

var (
	numericToken = regexp.MustCompile(`^\d+$`)
	versionToken = regexp.MustCompile(`^[vV]\d+$`)
)

// Filler words students append to filenames that carry no identity.
var fillerTokens = map[string]struct{}{
	"final":        {},
	"draft":        {},
	"copy":         {},
	"revised":      {},
	"edited":       {},
	"updated":      {},
	"new":          {},
	"presentation": {},
	"video":        {},
	"submission":   {},
}

// InferStudentName turns an uploaded filename into a display name: strip the
// extension, replace separators with spaces, drop trailing numeric ids and
// filler words like "final" or "v2", and title-case what remains.
func InferStudentName(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	replacer := strings.NewReplacer("_", " ", "-", " ", ".", " ")
	tokens := strings.Fields(replacer.Replace(base))

	for len(tokens) > 0 {
		last := strings.ToLower(tokens[len(tokens)-1])
		_, filler := fillerTokens[last]
		if !filler && !numericToken.MatchString(last) && !versionToken.MatchString(last) {
			break
		}
		tokens = tokens[:len(tokens)-1]
	}

	if len(tokens) == 0 {
		return "Student"
	}

	for i, tok := range tokens {
		tokens[i] = titleCase(tok)
	}
	return strings.Join(tokens, " ")
}

func titleCase(s string) string {
	r := []rune(strings.ToLower(s))
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

package tools

import (
	"strings"
	"unicode"
)

// maxQueryTerms caps how many complaint keywords go into a search query
const maxQueryTerms = 6

var stopWords = map[string]struct{}{
	"a": {}, "about": {}, "after": {}, "again": {}, "all": {}, "am": {}, "an": {}, "and": {},
	"any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "been": {}, "before": {}, "being": {},
	"but": {}, "by": {}, "can": {}, "could": {}, "did": {}, "do": {}, "does": {}, "doing": {},
	"dont": {}, "for": {}, "from": {}, "get": {}, "got": {}, "had": {}, "has": {}, "have": {},
	"having": {}, "he": {}, "her": {}, "here": {}, "him": {}, "his": {}, "how": {}, "i": {},
	"if": {}, "im": {}, "in": {}, "into": {}, "is": {}, "it": {}, "its": {}, "ive": {},
	"just": {}, "me": {}, "my": {}, "no": {}, "not": {}, "now": {}, "of": {}, "on": {},
	"or": {}, "our": {}, "out": {}, "please": {}, "so": {}, "still": {}, "than": {}, "that": {},
	"the": {}, "their": {}, "them": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "to": {}, "too": {}, "up": {}, "us": {}, "very": {}, "was": {}, "we": {},
	"were": {}, "what": {}, "when": {}, "where": {}, "which": {}, "while": {}, "who": {},
	"why": {}, "will": {}, "with": {}, "would": {}, "you": {}, "your": {}, "yet": {},
}

// DeriveQuery turns a complaint into a search query: lowercase words with
// stop words, single letters and repeats removed, first maxQueryTerms kept.
func DeriveQuery(complaint string) string {
	words := strings.FieldsFunc(strings.ToLower(complaint), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})

	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, maxQueryTerms)
	for _, w := range words {
		w = strings.ReplaceAll(w, "'", "")
		if len([]rune(w)) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
		if len(terms) == maxQueryTerms {
			break
		}
	}
	return strings.Join(terms, " ")
}

package coach

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
	minKeywordLen     = 3
)

// stopwords are dropped from questions before matching. Interview questions
// are dominated by these; the remaining words carry the topic.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a about above after again all also am an and any are as at be because
		been before being below between both but by can could describe did do
		does doing done during each example explain few for from give had has
		have having how i if in into is it its just me more most my no not of
		on once only or other our out over own please same should so some
		such tell than that the their them then there these they this those
		through time to too under until up very was way we were what when
		where which while who whom why will with would you your yourself
	`) {
		stopwords[w] = struct{}{}
	}
}

// Coverage is the outcome of matching question keywords against an answer.
type Coverage struct {
	// Ratio is the share of keywords found, in [0, 1]. Zero when the
	// question has no keywords.
	Ratio float64 `json:"ratio"`

	// Matched and Missing partition the question keywords.
	Matched []string `json:"matched"`
	Missing []string `json:"missing"`
}

// Score maps the ratio to the 1..10 scale used by the feedback scores.
func (c Coverage) Score() float64 {
	s := float64(int(c.Ratio*10 + 0.5))
	return max(1, s)
}

// KeywordCoverage reports how many content words of question appear in
// answer. Words are compared case-insensitively; a spoken word counts as a
// match when its Double Metaphone code overlaps the keyword's and their
// Jaro-Winkler similarity is at least 0.70, or when the similarity alone is
// at least 0.85. This tolerates transcription slips such as "cubernetes".
func KeywordCoverage(question, answer string) Coverage {
	keywords := Keywords(question)
	cov := Coverage{Matched: []string{}, Missing: []string{}}
	if len(keywords) == 0 {
		return cov
	}

	tokens := dedupe(tokenize(answer))
	tokenCodes := make([]map[string]struct{}, len(tokens))
	for i, t := range tokens {
		tokenCodes[i] = codes(t)
	}

	for _, kw := range keywords {
		if matchesAny(kw, tokens, tokenCodes) {
			cov.Matched = append(cov.Matched, kw)
		} else {
			cov.Missing = append(cov.Missing, kw)
		}
	}
	cov.Ratio = float64(len(cov.Matched)) / float64(len(keywords))
	return cov
}

// Keywords extracts the distinct content words of text in order of first
// appearance.
func Keywords(text string) []string {
	var out []string
	for _, t := range dedupe(tokenize(text)) {
		if len(t) < minKeywordLen {
			continue
		}
		if _, ok := stopwords[t]; ok {
			continue
		}
		out = append(out, t)
	}
	return out
}

func matchesAny(kw string, tokens []string, tokenCodes []map[string]struct{}) bool {
	kwCodes := codes(kw)
	for i, t := range tokens {
		if t == kw {
			return true
		}
		score := matchr.JaroWinkler(kw, t, false)
		if score >= fuzzyThreshold {
			return true
		}
		if score >= phoneticThreshold && overlap(kwCodes, tokenCodes[i]) {
			return true
		}
	}
	return false
}

// tokenize lowercases text and splits it on anything that is not a letter,
// digit, or in-word apostrophe/hyphen/plus (so "c++" and "follow-up" survive).
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '+' && r != '\''
	})
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, s := range in {
		s = strings.Trim(s, "-'")
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// codes returns the non-empty Double Metaphone codes of word.
func codes(word string) map[string]struct{} {
	set := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		set[p] = struct{}{}
	}
	if s != "" {
		set[s] = struct{}{}
	}
	return set
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

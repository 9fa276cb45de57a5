package kb

import (
	"regexp"
	"sort"
	"strings"
)

// Search defaults: matches below 15% confidence are dropped and at most
// three are returned.
const (
	DefaultMatchThreshold = 0.15
	DefaultTopK           = 3
)

// Score weights. A raw score of scoreCeiling or more maps to confidence 1.
const (
	weightTitleContains   = 15.0
	weightTitleOverlap    = 3.0
	weightSymptomContains = 10.0
	weightSymptomOverlap  = 2.0
	weightCategoryKeyword = 2.0
	scoreCeiling          = 40.0
	minTokenLen           = 3
)

// nonWordPattern matches everything that is neither an ASCII word
// character nor whitespace.
var nonWordPattern = regexp.MustCompile(`[^\w\s]`)

var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "but": {}, "in": {},
	"on": {}, "at": {}, "to": {}, "for": {}, "of": {}, "with": {}, "by": {},
	"from": {}, "is": {}, "are": {}, "was": {}, "were": {},
}

// categoryKeywords are matched as substrings of the lower-cased query.
var categoryKeywords = map[Category][]string{
	CategoryBilling:     {"bill", "payment", "invoice", "subscription", "charge", "refund"},
	CategoryLogin:       {"login", "password", "auth", "signin", "account", "credential"},
	CategoryPerformance: {"slow", "lag", "performance", "loading", "timeout", "fast"},
	CategoryBug:         {"error", "bug", "crash", "broken", "issue", "problem", "fail"},
	CategoryQuestion:    {"how", "what", "where", "guide", "help", "tutorial"},
}

type tokenSet map[string]struct{}

// tokenize lower-cases text, replaces punctuation with spaces and keeps
// the distinct tokens of at least minTokenLen bytes that are not stopwords.
func tokenize(text string) tokenSet {
	cleaned := nonWordPattern.ReplaceAllString(strings.ToLower(text), " ")
	set := make(tokenSet)
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) < minTokenLen {
			continue
		}
		if _, stop := stopwords[tok]; stop {
			continue
		}
		set[tok] = struct{}{}
	}
	return set
}

// jaccard is |a∩b| / |a∪b|, or 0 when either set is empty.
func jaccard(a, b tokenSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	var inter int
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

type indexedSymptom struct {
	lower  string
	tokens tokenSet
}

type indexedEntry struct {
	entry       Entry
	titleLower  string
	titleTokens tokenSet
	symptoms    []indexedSymptom
	keywords    []string
}

// Options tunes an Index. Zero TopK falls back to DefaultTopK.
type Options struct {
	MatchThreshold float64
	TopK           int
}

// Index scores queries against a fixed set of entries. Tokens are
// computed once at construction; the index is immutable afterwards and
// safe for concurrent use.
type Index struct {
	entries   []indexedEntry
	threshold float64
	topK      int
}

// NewIndex builds an index over entries in the given order. Ties in
// confidence keep this order.
func NewIndex(entries []Entry, opts Options) *Index {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	opts.MatchThreshold = clamp01(opts.MatchThreshold)

	ix := &Index{
		entries:   make([]indexedEntry, 0, len(entries)),
		threshold: opts.MatchThreshold,
		topK:      opts.TopK,
	}
	for _, e := range entries {
		ie := indexedEntry{
			entry:       cloneEntry(e),
			titleLower:  strings.ToLower(e.Title),
			titleTokens: tokenize(e.Title),
			keywords:    categoryKeywords[e.Category],
		}
		for _, s := range e.Symptoms {
			ie.symptoms = append(ie.symptoms, indexedSymptom{
				lower:  strings.ToLower(s),
				tokens: tokenize(s),
			})
		}
		ix.entries = append(ix.entries, ie)
	}
	return ix
}

// Len reports the number of indexed entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Entries returns a copy of the indexed entries in corpus order.
func (ix *Index) Entries() []Entry {
	out := make([]Entry, 0, len(ix.entries))
	for _, ie := range ix.entries {
		out = append(out, cloneEntry(ie.entry))
	}
	return out
}

// Search returns at most TopK matches whose confidence is at least the
// match threshold, highest confidence first. It never fails; an empty
// corpus yields an empty, non-nil slice. The query is lower-cased but not
// trimmed, so an empty query has no tokens and scores on the substring
// terms alone.
func (ix *Index) Search(query string) []MatchedIssue {
	matches := []MatchedIssue{}
	queryLower := strings.ToLower(query)
	queryTokens := tokenize(queryLower)

	for _, ie := range ix.entries {
		conf := clamp01(ie.score(queryLower, queryTokens) / scoreCeiling)
		if conf < ix.threshold {
			continue
		}
		matches = append(matches, MatchedIssue{
			ID:                ie.entry.ID,
			Title:             ie.entry.Title,
			Confidence:        conf,
			RecommendedAction: ie.entry.RecommendedAction,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
	if len(matches) > ix.topK {
		matches = matches[:ix.topK]
	}
	return matches
}

func (ie *indexedEntry) score(queryLower string, queryTokens tokenSet) float64 {
	var score float64
	if strings.Contains(ie.titleLower, queryLower) {
		score += weightTitleContains
	}
	score += jaccard(queryTokens, ie.titleTokens) * weightTitleOverlap

	for _, s := range ie.symptoms {
		if strings.Contains(queryLower, s.lower) || strings.Contains(s.lower, queryLower) {
			score += weightSymptomContains
		}
		score += jaccard(queryTokens, s.tokens) * weightSymptomOverlap
	}

	for _, kw := range ie.keywords {
		if strings.Contains(queryLower, kw) {
			score += weightCategoryKeyword
		}
	}
	return score
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func cloneEntry(e Entry) Entry {
	e.Symptoms = append([]string(nil), e.Symptoms...)
	return e
}

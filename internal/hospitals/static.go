package hospitals

import (
	"context"
	"sort"
	"strings"
	"unicode"
)

// StaticRetriever scores catalog passages by keyword overlap with the query.
type StaticRetriever struct {
	passages []string
	tokens   []map[string]struct{}
	topK     int
}

func NewStaticRetriever(catalog []Hospital, topK int) *StaticRetriever {
	if topK <= 0 {
		topK = 5
	}
	r := &StaticRetriever{topK: topK}
	for _, h := range catalog {
		p := h.Passage()
		set := map[string]struct{}{}
		for _, tok := range tokenize(p) {
			set[tok] = struct{}{}
		}
		r.passages = append(r.passages, p)
		r.tokens = append(r.tokens, set)
	}
	return r
}

var _ Retriever = (*StaticRetriever)(nil)

func (r *StaticRetriever) Search(_ context.Context, query string) ([]string, error) {
	terms := tokenize(query)
	type scored struct {
		idx   int
		score int
	}
	var hits []scored
	for i, set := range r.tokens {
		score := 0
		for _, term := range terms {
			if _, ok := set[term]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > r.topK {
		hits = hits[:r.topK]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = r.passages[h.idx]
	}
	return out, nil
}

var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "in": {}, "at": {}, "of": {}, "for": {}, "and": {},
	"hospital": {}, "hospitals": {}, "doctor": {}, "doctors": {}, "dr": {}, "near": {},
	"on": {}, "to": {}, "list": {}, "show": {}, "me": {}, "with": {}, "which": {}, "is": {}, "are": {},
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if _, stop := stopWords[f]; stop || len(f) < 2 {
			continue
		}
		out = append(out, f)
	}
	return out
}

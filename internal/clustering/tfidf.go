package clustering

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// maxFeatures caps the vocabulary; beyond this the extra dimensions are
// near-unique tokens that only add noise to the distance metric.
const maxFeatures = 1000

var tokenRe = regexp.MustCompile(`[A-Za-z0-9]+`)

// stopWords are tokens so common in Android stack traces that they carry
// no discriminating power.
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "at": {}, "by": {}, "for": {}, "from": {},
	"in": {}, "is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {},
	"to": {}, "was": {}, "with": {},
	"com": {}, "org": {}, "net": {}, "java": {}, "android": {}, "cts": {},
	"tests": {}, "test": {}, "testcases": {},
}

type sparseVec map[int]float64

func (v sparseVec) l2normalize() {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i, w := range v {
		v[i] = w / norm
	}
}

// cosineDistance is 1 - cosine similarity; vectors must be l2-normalized.
func cosineDistance(a, b sparseVec) float64 {
	// Iterate the smaller map.
	if len(b) < len(a) {
		a, b = b, a
	}
	var dot float64
	for i, wa := range a {
		if wb, ok := b[i]; ok {
			dot += wa * wb
		}
	}
	d := 1 - dot
	if d < 0 {
		return 0
	}
	return d
}

func tokenize(text string) []string {
	raw := tokenRe.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if len(tok) < 2 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		out = append(out, tok)
	}
	return out
}

// vectorize builds l2-normalized TF-IDF vectors (smoothed idf) for the
// given documents. Empty documents come back as empty vectors.
func vectorize(docs []string) []sparseVec {
	n := len(docs)
	tokenized := make([][]string, n)
	df := make(map[string]int)
	totalTF := make(map[string]int)
	for i, doc := range docs {
		toks := tokenize(doc)
		tokenized[i] = toks
		seen := make(map[string]struct{}, len(toks))
		for _, tok := range toks {
			totalTF[tok]++
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}

	// Vocabulary: the maxFeatures most frequent terms, ties by term for
	// determinism.
	terms := make([]string, 0, len(totalTF))
	for t := range totalTF {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(a, b int) bool {
		if totalTF[terms[a]] != totalTF[terms[b]] {
			return totalTF[terms[a]] > totalTF[terms[b]]
		}
		return terms[a] < terms[b]
	})
	if len(terms) > maxFeatures {
		terms = terms[:maxFeatures]
	}
	vocab := make(map[string]int, len(terms))
	for i, t := range terms {
		vocab[t] = i
	}

	vecs := make([]sparseVec, n)
	for i, toks := range tokenized {
		vec := make(sparseVec)
		for _, tok := range toks {
			if idx, ok := vocab[tok]; ok {
				vec[idx]++
			}
		}
		for idx := range vec {
			term := terms[idx]
			idf := math.Log(float64(1+n)/float64(1+df[term])) + 1
			vec[idx] *= idf
		}
		vec.l2normalize()
		vecs[i] = vec
	}
	return vecs
}

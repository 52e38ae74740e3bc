// Package rank implements Reciprocal Rank Fusion over independent candidate
// rankings.
package rank

import "sort"

const (
	// DefaultK is the RRF rank offset
	DefaultK = 60.0

	// OverFetchFactor is how many candidates each side keeps per requested result
	OverFetchFactor = 4
)

// Candidate is one entry of a single-source ranking. Lists handed to Fuse
// must already be ordered best first.
type Candidate struct {
	ID    int64
	Score float64 // Source-native score, informational only
}

// Fused is one item after fusion
type Fused struct {
	ID           int64
	Score        float64
	SemanticRank int // 1-based, 0 when absent from the semantic list
	LexicalRank  int // 1-based, 0 when absent from the lexical list
	Rank         int // Dense rank over Score
}

// InSemantic reports whether the item came from the semantic list
func (f Fused) InSemantic() bool { return f.SemanticRank > 0 }

// InLexical reports whether the item came from the lexical list
func (f Fused) InLexical() bool { return f.LexicalRank > 0 }

// CandidateLimit returns the per-side candidate count for a result limit
func CandidateLimit(limit int) int {
	if limit < 1 {
		limit = 1
	}
	return limit * OverFetchFactor
}

// Fuse merges the semantic and lexical rankings with Reciprocal Rank Fusion:
//
//	score(d) = 1/(k + semantic_rank(d)) + 1/(k + lexical_rank(d))
//
// A side the item is missing from contributes zero. Results are ordered by
// score descending then id ascending, given dense ranks, and cut to limit.
// A non-positive k uses DefaultK; a non-positive limit keeps everything.
// Duplicate ids within one list keep their best rank.
func Fuse(semantic, lexical []Candidate, k float64, limit int) []Fused {
	if k <= 0 {
		k = DefaultK
	}

	byID := make(map[int64]*Fused, len(semantic)+len(lexical))
	order := make([]int64, 0, len(semantic)+len(lexical))

	get := func(id int64) *Fused {
		f, ok := byID[id]
		if !ok {
			f = &Fused{ID: id}
			byID[id] = f
			order = append(order, id)
		}
		return f
	}

	for i, c := range semantic {
		f := get(c.ID)
		if f.SemanticRank == 0 {
			f.SemanticRank = i + 1
			f.Score += 1.0 / (k + float64(i+1))
		}
	}
	for i, c := range lexical {
		f := get(c.ID)
		if f.LexicalRank == 0 {
			f.LexicalRank = i + 1
			f.Score += 1.0 / (k + float64(i+1))
		}
	}

	results := make([]Fused, 0, len(order))
	for _, id := range order {
		results = append(results, *byID[id])
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	assignDenseRanks(results)

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// assignDenseRanks gives equal scores the same rank with no gaps after ties
func assignDenseRanks(results []Fused) {
	rank := 0
	for i := range results {
		if i == 0 || results[i].Score != results[i-1].Score {
			rank++
		}
		results[i].Rank = rank
	}
}

package order

import (
	"math"
	"strings"
)

// Ranking weights per spec.md §4.9's scoring function.
const (
	weightNameSimilarity  = 1.0
	weightPurchaseHistory = 2.0
	weightPackSize        = 1.0
	weightPrice           = 1.0
	weightActiveOffer     = 0.5
	weightPosition        = 0.25
)

// RankVariants scores every available candidate for itemName and returns
// them sorted best-first. Unavailable candidates are filtered out before
// scoring, per spec.md §4.9.
func RankVariants(itemName string, candidates []Candidate, history PurchaseHistory, avgConsumption float64) []ScoredCandidate {
	available := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		if c.Available {
			available = append(available, c)
		}
	}
	if len(available) == 0 {
		return nil
	}

	maxPrice := 0.0
	for _, c := range available {
		if c.Price > maxPrice {
			maxPrice = c.Price
		}
	}

	scored := make([]ScoredCandidate, 0, len(available))
	for _, c := range available {
		score := nameSimilarity(itemName, c.Name) * weightNameSimilarity

		if history != nil && history.HasPurchased(itemName, c.ProductID) {
			score += weightPurchaseHistory
		}

		if avgConsumption > 0 && c.PackSize > 0 {
			proximity := 1 - math.Min(1, math.Abs(c.PackSize-avgConsumption)/avgConsumption)
			score += proximity * weightPackSize
		}

		if maxPrice > 0 {
			score += (1 - c.Price/maxPrice) * weightPrice
		}

		if c.HasActiveOffer {
			score += weightActiveOffer
		}

		score += positionPreference(c.Position) * weightPosition

		scored = append(scored, ScoredCandidate{Candidate: c, Score: score})
	}

	sortByScoreDescending(scored)
	return scored
}

// nameSimilarity is a token-overlap (Jaccard) similarity between the
// requested item name and a candidate's product name. No ecosystem
// fuzzy-matching library appears anywhere in the retrieval pack, so this
// stays on stdlib string/token operations.
func nameSimilarity(a, b string) float64 {
	ta := tokenize(a)
	tb := tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for t := range ta {
		if tb[t] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenize(s string) map[string]bool {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// positionPreference gives a small boost to results ranked earlier by the
// store's own search, decaying with position.
func positionPreference(position int) float64 {
	return 1 / float64(position+1)
}

func sortByScoreDescending(scored []ScoredCandidate) {
	for i := 1; i < len(scored); i++ {
		for j := i; j > 0 && scored[j].Score > scored[j-1].Score; j-- {
			scored[j], scored[j-1] = scored[j-1], scored[j]
		}
	}
}

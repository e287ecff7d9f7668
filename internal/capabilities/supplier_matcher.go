package capabilities

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/normalizer"
)

// SupplierCandidateSource is the subset of internal/repository.SupplierRepository
// the matcher needs, kept as an interface so tests can supply a fake known-supplier
// set without a database.
type SupplierCandidateSource interface {
	Candidates(ctx context.Context, normalizedName string, candidateLen, limit int) ([]models.KnownSupplier, error)
}

// SupplierMatchResult is the best match plus a bounded list of
// alternatives.
type SupplierMatchResult struct {
	Best         *SupplierCandidate
	Alternatives []SupplierCandidate
}

// SupplierCandidate is one scored known-supplier row.
type SupplierCandidate struct {
	SupplierID string
	Name       string
	Confidence decimal.Decimal
	Reasoning  string
}

// SupplierMatcher implements candidate generation and scoring for
// supplier matching. Unlike the other four capabilities this isn't a live
// HTTP collaborator: the known-supplier set is a replicated read model
// queried through an injected repository.
type SupplierMatcher struct {
	source        SupplierCandidateSource
	minConfidence decimal.Decimal
	topN          int
	candidateLen  int
	candidateCap  int
}

func NewSupplierMatcher(source SupplierCandidateSource) *SupplierMatcher {
	return &SupplierMatcher{
		source:        source,
		minConfidence: decimal.NewFromFloat(0.7),
		topN:          10,
		candidateLen:  4,
		candidateCap:  200,
	}
}

// Match scores cleanedName against the known-supplier set: normalize,
// fetch candidates, score, filter by minConfidence, sort by confidence
// desc / nameLength asc / supplierId asc, return top N.
func (m *SupplierMatcher) Match(ctx context.Context, cleanedName string) (SupplierMatchResult, error) {
	queryName := normalizer.Normalize(cleanedName)
	candidates, err := m.source.Candidates(ctx, queryName, m.candidateLen, m.candidateCap)
	if err != nil {
		return SupplierMatchResult{}, err
	}

	scored := make([]SupplierCandidate, 0, len(candidates))
	for _, c := range candidates {
		confidence, reasoning := score(queryName, c.NormalizedName)
		if confidence.LessThan(m.minConfidence) {
			continue
		}
		scored = append(scored, SupplierCandidate{
			SupplierID: c.SupplierID,
			Name:       c.Name,
			Confidence: confidence,
			Reasoning:  reasoning,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		if !scored[i].Confidence.Equal(scored[j].Confidence) {
			return scored[i].Confidence.GreaterThan(scored[j].Confidence)
		}
		if len(scored[i].Name) != len(scored[j].Name) {
			return len(scored[i].Name) < len(scored[j].Name)
		}
		return scored[i].SupplierID < scored[j].SupplierID
	})

	if len(scored) > m.topN {
		scored = scored[:m.topN]
	}

	result := SupplierMatchResult{Alternatives: scored}
	if len(scored) > 0 {
		best := scored[0]
		result.Best = &best
	}
	return result, nil
}

// score implements the confidence function against two already-normalized
// names.
func score(a, b string) (decimal.Decimal, string) {
	if a == b {
		return decimal.NewFromFloat(1.0), "exact normalized match"
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return decimal.NewFromFloat(0.9), "substring match"
	}

	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	common := commonWordCount(wordsA, wordsB)
	denominator := len(wordsA)
	if len(wordsB) > denominator {
		denominator = len(wordsB)
	}
	if denominator == 0 {
		return decimal.NewFromFloat(0.5), "no common words"
	}

	ratio := decimal.NewFromInt(int64(common)).Div(decimal.NewFromInt(int64(denominator)))
	floor := decimal.NewFromFloat(0.5)
	if ratio.GreaterThan(floor) {
		return ratio, "partial word overlap"
	}
	return floor, "partial word overlap"
}

func commonWordCount(a, b []string) int {
	seen := make(map[string]int, len(a))
	for _, w := range a {
		seen[w]++
	}
	count := 0
	for _, w := range b {
		if seen[w] > 0 {
			seen[w]--
			count++
		}
	}
	return count
}

// Package exclusion implements the keyword exclusion filter: a
// whole-word, case-insensitive match against an admin-managed keyword
// list, evaluated once per record at classification completion. The
// active keyword set is held in a TTL cache with explicit invalidation
// so admin edits take effect without a process restart.
package exclusion

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"iaros/payee-enrichment-engine/internal/models"
	"iaros/payee-enrichment-engine/internal/normalizer"
)

const activeSetCacheKey = "active_keywords"

// KeywordLister is the subset of internal/repository.KeywordRepository the
// filter needs, kept as an interface so tests can supply a fake without a
// database.
type KeywordLister interface {
	ActiveKeywords(ctx context.Context) ([]models.ExclusionKeyword, error)
}

// Filter evaluates records against the admin-managed exclusion list.
type Filter struct {
	repo  KeywordLister
	cache *cache.Cache
	ttl   time.Duration
}

// New builds a Filter whose active-keyword set is refreshed from repo at
// most once per ttl.
func New(repo KeywordLister, ttl time.Duration) *Filter {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Filter{
		repo:  repo,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Test evaluates name against the active keyword set, returning the first
// matching keyword (whole-word over the normalized name) or "" if none
// match. The match depends only on the normalized form of name and the
// active set, so two raw spellings that normalize identically always
// agree.
func (f *Filter) Test(ctx context.Context, name string) (matched string, err error) {
	keywords, err := f.activeKeywords(ctx)
	if err != nil {
		return "", err
	}
	for _, kw := range keywords {
		if MatchesKeyword(kw.Keyword, name) {
			return kw.Keyword, nil
		}
	}
	return "", nil
}

// MatchesKeyword reports whether name contains keyword as a whole word:
// the keyword equals one of the whitespace-separated tokens of the
// normalized name. A keyword with internal whitespace matches as a phrase
// within the normalized name instead. Pure; shared by the filter and the
// admin keyword-test endpoint.
func MatchesKeyword(keyword, name string) bool {
	needle := strings.ToLower(strings.TrimSpace(keyword))
	if needle == "" {
		return false
	}
	normalized := normalizer.Normalize(name)
	if strings.Contains(needle, " ") {
		return strings.Contains(" "+normalized+" ", " "+needle+" ")
	}
	for _, token := range strings.Fields(normalized) {
		if token == needle {
			return true
		}
	}
	return false
}

func (f *Filter) activeKeywords(ctx context.Context) ([]models.ExclusionKeyword, error) {
	if cached, ok := f.cache.Get(activeSetCacheKey); ok {
		return cached.([]models.ExclusionKeyword), nil
	}
	keywords, err := f.repo.ActiveKeywords(ctx)
	if err != nil {
		return nil, err
	}
	f.cache.Set(activeSetCacheKey, keywords, cache.DefaultExpiration)
	return keywords, nil
}

// Invalidate forces the next Test call to refresh from the repository,
// called by the admin keyword-management handlers after a write so changes
// take effect without waiting out the TTL.
func (f *Filter) Invalidate() {
	f.cache.Delete(activeSetCacheKey)
}


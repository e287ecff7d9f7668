package exclusion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iaros/payee-enrichment-engine/internal/models"
)

type fakeLister struct {
	keywords []models.ExclusionKeyword
	calls    int
}

func (f *fakeLister) ActiveKeywords(ctx context.Context) ([]models.ExclusionKeyword, error) {
	f.calls++
	return f.keywords, nil
}

func TestFilter_WholeWordMatch(t *testing.T) {
	lister := &fakeLister{keywords: []models.ExclusionKeyword{{Keyword: "void"}}}
	f := New(lister, time.Minute)

	matched, err := f.Test(context.Background(), "Void Check - Do Not Pay")
	require.NoError(t, err)
	assert.Equal(t, "void", matched)
}

func TestFilter_NoSubstringMatch(t *testing.T) {
	lister := &fakeLister{keywords: []models.ExclusionKeyword{{Keyword: "cash"}}}
	f := New(lister, time.Minute)

	matched, err := f.Test(context.Background(), "Cashier Services LLC")
	require.NoError(t, err)
	assert.Empty(t, matched, "substring-only match should not count as excluded")
}

func TestFilter_MultiWordKeyword(t *testing.T) {
	lister := &fakeLister{keywords: []models.ExclusionKeyword{{Keyword: "do not pay"}}}
	f := New(lister, time.Minute)

	matched, err := f.Test(context.Background(), "Vendor - Do Not Pay")
	require.NoError(t, err)
	assert.Equal(t, "do not pay", matched)
}

func TestMatchesKeyword_Table(t *testing.T) {
	cases := []struct {
		keyword string
		name    string
		want    bool
	}{
		{"bank", "Bank of America", true},
		{"bank", "Burbank Studios", false},
		{"BANK", "bank of america", true},
		{"void", "VOID - reissued", true},
		{"do not pay", "Vendor (Do Not Pay)", true},
		{"do not pay", "do pay", false},
		{"", "anything", false},
		{"widgets", "Acme Widgets Inc", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, MatchesKeyword(tc.keyword, tc.name), "keyword %q vs %q", tc.keyword, tc.name)
	}
}

func TestMatchesKeyword_DependsOnlyOnNormalizedForm(t *testing.T) {
	// Two raw spellings normalizing identically must agree.
	assert.Equal(t,
		MatchesKeyword("bank", "The Bank of America, Inc."),
		MatchesKeyword("bank", "bank of america"))
}

func TestFilter_CachesActiveSet(t *testing.T) {
	lister := &fakeLister{keywords: []models.ExclusionKeyword{{Keyword: "test"}}}
	f := New(lister, time.Minute)

	_, err := f.Test(context.Background(), "a test name")
	require.NoError(t, err)
	_, err = f.Test(context.Background(), "another test name")
	require.NoError(t, err)

	assert.Equal(t, 1, lister.calls, "second Test call should hit the cache, not the repository")
}

func TestFilter_InvalidateForcesRefresh(t *testing.T) {
	lister := &fakeLister{keywords: []models.ExclusionKeyword{{Keyword: "test"}}}
	f := New(lister, time.Minute)

	_, err := f.Test(context.Background(), "a test name")
	require.NoError(t, err)
	f.Invalidate()
	_, err = f.Test(context.Background(), "a test name")
	require.NoError(t, err)

	assert.Equal(t, 2, lister.calls)
}

package search

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleDocs() []Document {
	return []Document{
		{ID: "t1", ScopeName: "svc", Kind: "todos", Fields: map[string]interface{}{
			"title":       "Fix login authentication bug",
			"description": "Users cannot log in after the session refresh change",
			"tags":        []interface{}{"urgent", "auth"},
		}},
		{ID: "t2", ScopeName: "svc", Kind: "todos", Fields: map[string]interface{}{
			"title":       "Write onboarding documentation",
			"description": "Document the authentication flow for new engineers",
			"tags":        []interface{}{"docs"},
		}},
		{ID: "t3", ScopeName: "svc", Kind: "todos", Fields: map[string]interface{}{
			"title":       "Refactor caching layer",
			"description": "Improve cache eviction performance",
			"tags":        []interface{}{"perf"},
		}},
	}
}

func TestBuildIsDeterministicAcrossRuns(t *testing.T) {
	docs := sampleDocs()
	idx1 := Build(docs)
	idx2 := Build(docs)

	require.Equal(t, idx1.terms, idx2.terms)
}

func TestRegexSearchFindsMatchingField(t *testing.T) {
	idx := Build(sampleDocs())
	hits, err := idx.Regex(`(?i)^fix`, "title")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "t1", hits[0].DocID)
}

func TestRegexSearchRejectsInvalidPattern(t *testing.T) {
	idx := Build(sampleDocs())
	_, err := idx.Regex("(unterminated", "")
	require.Error(t, err)
}

func TestFullTextRanksByRelevance(t *testing.T) {
	idx := Build(sampleDocs())
	hits := idx.FullText("authentication", 0)
	require.NotEmpty(t, hits)
	require.Contains(t, []string{"t1", "t2"}, hits[0].DocID)
}

func TestHybridBoostsLiteralSubstringMatches(t *testing.T) {
	idx := Build(sampleDocs())
	hits := idx.Hybrid("authentication flow", Weights{}, 0)
	require.NotEmpty(t, hits)
	require.Equal(t, "t2", hits[0].DocID)
}

func TestHybridWeightsShiftRankingTowardKeywordMatches(t *testing.T) {
	idx := Build(sampleDocs())
	hits := idx.Hybrid("authentication flow", Weights{FullText: 0, Keyword: 1}, 0)
	require.NotEmpty(t, hits)
	require.Equal(t, "t2", hits[0].DocID)
	require.Equal(t, 1.0, hits[0].Score)
}

func TestHybridWeightsNormalizeToSumOne(t *testing.T) {
	idx := Build(sampleDocs())
	a := idx.Hybrid("authentication", Weights{FullText: 1, Keyword: 1}, 0)
	b := idx.Hybrid("authentication", Weights{FullText: 2, Keyword: 2}, 0)
	require.Equal(t, a, b)
}

func TestFilteredAppliesPredicateAfterRanking(t *testing.T) {
	idx := Build(sampleDocs())
	hits := idx.Filtered("authentication", 0, func(d Document) bool {
		return d.ID != "t1"
	})
	for _, h := range hits {
		require.NotEqual(t, "t1", h.DocID)
	}
}

func TestGetSuggestionsReturnsPrefixMatches(t *testing.T) {
	idx := Build(sampleDocs())
	suggestions := idx.GetSuggestions("auth", 10)
	require.Contains(t, suggestions, "authentication")
}

func TestGetSuggestionsRanksByPostingsCountDescending(t *testing.T) {
	idx := Build(sampleDocs())
	suggestions := idx.GetSuggestions("auth", 10)
	require.Equal(t, []string{"authentication", "auth"}, suggestions)
}

func TestGetSuggestionsRespectsLimit(t *testing.T) {
	idx := Build(sampleDocs())
	suggestions := idx.GetSuggestions("", 2)
	require.LessOrEqual(t, len(suggestions), 2)
}

func TestFullTextNoMatchReturnsEmpty(t *testing.T) {
	idx := Build(sampleDocs())
	hits := idx.FullText("nonexistentterm", 0)
	require.Empty(t, hits)
}

func TestIndexCacheReturnsSameIndexOnHit(t *testing.T) {
	c := NewIndexCache(8, time.Hour)
	calls := 0
	build := func() *Index {
		calls++
		return Build(sampleDocs())
	}

	first := c.GetOrBuild("k1", build)
	second := c.GetOrBuild("k1", build)

	require.Same(t, first, second)
	require.Equal(t, 1, calls)
}

func TestIndexCacheMissesOnDifferentKey(t *testing.T) {
	c := NewIndexCache(8, time.Hour)
	calls := 0
	build := func() *Index {
		calls++
		return Build(sampleDocs())
	}

	c.GetOrBuild("k1", build)
	c.GetOrBuild("k2", build)

	require.Equal(t, 2, calls)
}

func TestIndexCacheDoesNotCacheNilBuild(t *testing.T) {
	c := NewIndexCache(8, time.Hour)
	calls := 0
	build := func() *Index {
		calls++
		return nil
	}

	first := c.GetOrBuild("k1", build)
	second := c.GetOrBuild("k1", build)

	require.Nil(t, first)
	require.Nil(t, second)
	require.Equal(t, 2, calls)
}

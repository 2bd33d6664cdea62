// Package search implements the search engine (C7): an in-memory
// inverted index over document corpora supporting regex, full-text
// (TF-IDF), hybrid, and filtered query modes, plus prefix suggestions.
package search

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"

	"rhema/internal/logging"
)

// Document is one indexable record: a document's identity plus its
// queryable fields, flattened from the generic YAML structure the
// executor loads. FilePath and ModTime describe the source data file
// the document was read from, carried through so callers can filter on
// file-type extension, scope, or modification-time range (§4.7).
type Document struct {
	ID        string
	ScopeName string
	Kind      string
	FilePath  string
	ModTime   time.Time
	Fields    map[string]interface{}
}

type occurrence struct {
	docIndex int
	field    string
	position int
}

// Index is a built, queryable inverted index. Indexes are immutable once
// built; re-indexing the same corpus in the same order always produces
// the same postings (Build performs no I/O and tokenization is pure).
type Index struct {
	docs         []Document
	postings     map[string][]occurrence
	docTermFreq  []map[string]int
	docLength    []int
	terms        []string // sorted unique terms, for prefix suggestions
	totalDocs    int
}

// Hit is one search result.
type Hit struct {
	DocID     string
	ScopeName string
	Kind      string
	Field     string
	Score     float64
	Snippet   string
}

var wordSplitter = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// tokenize lowercases text and splits on non-alphanumeric runs, dropping
// tokens shorter than two characters.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	raw := wordSplitter.Split(lower, -1)
	out := make([]string, 0, len(raw))
	for _, tok := range raw {
		if len([]rune(tok)) >= 2 {
			out = append(out, tok)
		}
	}
	return out
}

// Build tokenizes every document's fields in parallel and merges the
// results into one index, in document order, so the final index is
// deterministic regardless of goroutine scheduling.
func Build(docs []Document) *Index {
	timer := logging.StartTimer(logging.CategorySearch, "Build")
	defer timer.Stop()

	perDoc := make([]map[string][]occurrence, len(docs))
	g := new(errgroup.Group)
	for i, d := range docs {
		i, d := i, d
		g.Go(func() error {
			perDoc[i] = tokenizeDocument(d)
			return nil
		})
	}
	_ = g.Wait()

	idx := &Index{
		docs:        docs,
		postings:    map[string][]occurrence{},
		docTermFreq: make([]map[string]int, len(docs)),
		docLength:   make([]int, len(docs)),
		totalDocs:   len(docs),
	}

	termSet := map[string]struct{}{}
	for i, occs := range perDoc {
		freq := map[string]int{}
		length := 0
		for term, termOccs := range occs {
			for _, o := range termOccs {
				o.docIndex = i
				idx.postings[term] = append(idx.postings[term], o)
			}
			freq[term] += len(termOccs)
			length += len(termOccs)
			termSet[term] = struct{}{}
		}
		idx.docTermFreq[i] = freq
		idx.docLength[i] = length
	}

	terms := make([]string, 0, len(termSet))
	for t := range termSet {
		terms = append(terms, t)
	}
	sort.Strings(terms)
	idx.terms = terms

	logging.Search("built index: %d document(s), %d unique term(s)", len(docs), len(terms))
	return idx
}

func tokenizeDocument(d Document) map[string][]occurrence {
	out := map[string][]occurrence{}
	fields := make([]string, 0, len(d.Fields))
	for field := range d.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		text := flattenToText(d.Fields[field])
		for pos, tok := range tokenize(text) {
			out[tok] = append(out[tok], occurrence{field: field, position: pos})
		}
	}
	return out
}

// flattenToText joins every string leaf reachable from v into one space
// separated blob, so nested custom fields are searchable too.
func flattenToText(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, e := range val {
			parts = append(parts, flattenToText(e))
		}
		return strings.Join(parts, " ")
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, flattenToText(val[k]))
		}
		return strings.Join(parts, " ")
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// docFrequency is the number of documents containing term at least once.
func (idx *Index) docFrequency(term string) int {
	seen := map[int]bool{}
	for _, o := range idx.postings[term] {
		seen[o.docIndex] = true
	}
	return len(seen)
}

func (idx *Index) idf(term string) float64 {
	df := idx.docFrequency(term)
	return math.Log(float64(idx.totalDocs+1) / float64(df+1))
}

// Regex searches field (all fields if empty) for a compiled pattern
// match, returning one hit per matching (document, field) pair.
func (idx *Index) Regex(pattern, field string) ([]Hit, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Regex")
	defer timer.Stop()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid search pattern: %w", err)
	}

	var hits []Hit
	for _, d := range idx.docs {
		for f, v := range d.Fields {
			if field != "" && f != field {
				continue
			}
			text := flattenToText(v)
			if loc := re.FindStringIndex(text); loc != nil {
				hits = append(hits, Hit{
					DocID:     d.ID,
					ScopeName: d.ScopeName,
					Kind:      d.Kind,
					Field:     f,
					Score:     1.0,
					Snippet:   snippet(text, loc[0], 40),
				})
			}
		}
	}
	return hits, nil
}

// FullText ranks documents by TF-IDF score over the query's tokens.
func (idx *Index) FullText(query string, limit int) []Hit {
	timer := logging.StartTimer(logging.CategorySearch, "FullText")
	defer timer.Stop()

	terms := tokenize(query)
	scores := make([]float64, len(idx.docs))
	bestField := make([]string, len(idx.docs))

	for _, term := range terms {
		idf := idx.idf(term)
		for _, o := range idx.postings[term] {
			tf := float64(idx.docTermFreq[o.docIndex][term])
			if idx.docLength[o.docIndex] > 0 {
				tf /= float64(idx.docLength[o.docIndex])
			}
			scores[o.docIndex] += tf * idf
			if bestField[o.docIndex] == "" {
				bestField[o.docIndex] = o.field
			}
		}
	}

	return rankScores(idx, scores, bestField, limit)
}

// Weights controls how Hybrid blends full-text relevance against
// literal keyword matches. Both fields are normalized to sum to 1
// before use; a zero Weights value splits the two evenly.
type Weights struct {
	FullText float64
	Keyword  float64
}

// normalized returns w's two components scaled to sum to 1, falling
// back to an even 0.5/0.5 split when both are zero or negative.
func (w Weights) normalized() (fullText, keyword float64) {
	total := w.FullText + w.Keyword
	if total <= 0 {
		return 0.5, 0.5
	}
	return w.FullText / total, w.Keyword / total
}

// Hybrid combines a FullText relevance score (normalized against the
// corpus's highest score) with a literal-substring keyword score, using
// weights normalized to sum to 1.
func (idx *Index) Hybrid(query string, weights Weights, limit int) []Hit {
	timer := logging.StartTimer(logging.CategorySearch, "Hybrid")
	defer timer.Stop()

	terms := tokenize(query)
	ftScores := make([]float64, len(idx.docs))
	bestField := make([]string, len(idx.docs))

	for _, term := range terms {
		idf := idx.idf(term)
		for _, o := range idx.postings[term] {
			tf := float64(idx.docTermFreq[o.docIndex][term])
			if idx.docLength[o.docIndex] > 0 {
				tf /= float64(idx.docLength[o.docIndex])
			}
			ftScores[o.docIndex] += tf * idf
			if bestField[o.docIndex] == "" {
				bestField[o.docIndex] = o.field
			}
		}
	}
	maxFt := 0.0
	for _, s := range ftScores {
		if s > maxFt {
			maxFt = s
		}
	}

	lowerQuery := strings.ToLower(query)
	keywordScores := make([]float64, len(idx.docs))
	for i, d := range idx.docs {
		for f, v := range d.Fields {
			if strings.Contains(strings.ToLower(flattenToText(v)), lowerQuery) {
				keywordScores[i] = 1
				if bestField[i] == "" {
					bestField[i] = f
				}
				break
			}
		}
	}

	wFt, wKw := weights.normalized()
	scores := make([]float64, len(idx.docs))
	for i := range scores {
		normalizedFt := 0.0
		if maxFt > 0 {
			normalizedFt = ftScores[i] / maxFt
		}
		scores[i] = wFt*normalizedFt + wKw*keywordScores[i]
	}

	return rankScores(idx, scores, bestField, limit)
}

// Filtered runs query through FullText but discards any document for
// which keep returns false, preserving rank order.
func (idx *Index) Filtered(query string, limit int, keep func(Document) bool) []Hit {
	timer := logging.StartTimer(logging.CategorySearch, "Filtered")
	defer timer.Stop()

	return idx.FilterHits(idx.FullText(query, 0), limit, keep)
}

// FilterHits discards any hit from hits whose source document fails
// keep, preserving rank order. Used to apply scope/mtime/path filters
// on top of any ranking mode (FullText, Hybrid), not just FullText.
func (idx *Index) FilterHits(hits []Hit, limit int, keep func(Document) bool) []Hit {
	var out []Hit
	for _, h := range hits {
		doc := idx.docByID(h.DocID, h.ScopeName)
		if doc == nil || !keep(*doc) {
			continue
		}
		out = append(out, h)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (idx *Index) docByID(id, scopeName string) *Document {
	for i := range idx.docs {
		if idx.docs[i].ID == id && idx.docs[i].ScopeName == scopeName {
			return &idx.docs[i]
		}
	}
	return nil
}

func rankScores(idx *Index, scores []float64, bestField []string, limit int) []Hit {
	type scored struct {
		i     int
		score float64
	}
	var ranked []scored
	for i, s := range scores {
		if s > 0 {
			ranked = append(ranked, scored{i: i, score: s})
		}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		if ranked[a].score != ranked[b].score {
			return ranked[a].score > ranked[b].score
		}
		return idx.docs[ranked[a].i].ID < idx.docs[ranked[b].i].ID
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	hits := make([]Hit, 0, len(ranked))
	for _, r := range ranked {
		d := idx.docs[r.i]
		field := bestField[r.i]
		text := flattenToText(d.Fields[field])
		hits = append(hits, Hit{
			DocID:     d.ID,
			ScopeName: d.ScopeName,
			Kind:      d.Kind,
			Field:     field,
			Score:     r.score,
			Snippet:   snippet(text, 0, 40),
		})
	}
	return hits
}

// snippet returns up to radius characters of context on either side of
// pos within text.
func snippet(text string, pos, radius int) string {
	runes := []rune(text)
	if pos > len(runes) {
		pos = 0
	}
	start := pos - radius
	if start < 0 {
		start = 0
	}
	end := pos + radius
	if end > len(runes) {
		end = len(runes)
	}
	return strings.TrimSpace(string(runes[start:end]))
}

// IndexCache caches built Indexes by corpus key, under the same LRU+TTL
// policy as the query cache (C10), so repeated searches over an
// unchanged corpus skip re-tokenizing the whole document set.
type IndexCache struct {
	entries *lru.LRU[string, *Index]
}

// NewIndexCache builds an IndexCache capped at capacity entries, each
// expiring after ttl.
func NewIndexCache(capacity int, ttl time.Duration) *IndexCache {
	if capacity < 1 {
		capacity = 1
	}
	return &IndexCache{entries: lru.NewLRU[string, *Index](capacity, nil, ttl)}
}

// GetOrBuild returns the cached Index for key, building and storing it
// via build on a miss. A nil Index from build (the caller hit an error
// assembling the corpus) is returned but never cached, so the next call
// retries rather than pinning a failed build for the cache's TTL.
func (c *IndexCache) GetOrBuild(key string, build func() *Index) *Index {
	if idx, ok := c.entries.Get(key); ok {
		logging.Search("index cache hit key=%s", key)
		return idx
	}
	idx := build()
	if idx == nil {
		return nil
	}
	c.entries.Add(key, idx)
	return idx
}

// GetSuggestions returns up to limit terms in the index that begin with
// prefix, ranked by total postings count (most-referenced term first),
// ties broken alphabetically for determinism.
func (idx *Index) GetSuggestions(prefix string, limit int) []string {
	prefix = strings.ToLower(prefix)
	start := sort.SearchStrings(idx.terms, prefix)

	type candidate struct {
		term  string
		count int
	}
	var candidates []candidate
	for i := start; i < len(idx.terms); i++ {
		if !strings.HasPrefix(idx.terms[i], prefix) {
			break
		}
		candidates = append(candidates, candidate{term: idx.terms[i], count: len(idx.postings[idx.terms[i]])})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].term < candidates[j].term
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.term
	}
	return out
}

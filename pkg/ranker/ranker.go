package ranker

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"github.com/xhad/doctalk/internal/models"
	"github.com/xhad/doctalk/internal/types"
)

const (
	minTermLength   = 3
	fuzzyMinLength  = 5
	maxEditDistance = 2
	proximityWindow = 6
)

type RankerConfig struct {
	Workers     int           // concurrent scorers
	CacheTTL    time.Duration // lifetime of cached rankings per document version
	DefaultTopK int
}

// Ranker scores fragments lexically against a question.
type Ranker struct {
	config RankerConfig
	cache  *cache.Cache
}

var _ types.Ranker = (*Ranker)(nil)

func NewWithConfig(config RankerConfig) *Ranker {
	if config.Workers <= 0 {
		config.Workers = runtime.NumCPU()
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 10 * time.Minute
	}
	if config.DefaultTopK <= 0 {
		config.DefaultTopK = 3
	}

	return &Ranker{
		config: config,
		cache:  cache.New(config.CacheTTL, 2*config.CacheTTL),
	}
}

// Rank returns at most topK fragments ordered by descending relevance, ties
// broken by document order. Fragments that share no term with the query are
// still returned when fewer than topK fragments score above zero.
func (r *Ranker) Rank(ctx context.Context, query string, fragments []models.Fragment, topK int) ([]models.RankedFragment, error) {
	if len(fragments) == 0 {
		return nil, types.ErrNoDocumentLoaded
	}
	if topK <= 0 {
		topK = r.config.DefaultTopK
	}

	terms := QueryTerms(query)
	ranked := make([]models.RankedFragment, len(fragments))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)
	for i := range fragments {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ranked[i] = models.RankedFragment{
				Fragment:  fragments[i],
				Relevance: score(terms, fragments[i]),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("ranking fragments: %w", err)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Relevance != ranked[j].Relevance {
			return ranked[i].Relevance > ranked[j].Relevance
		}
		return ranked[i].SequenceIndex < ranked[j].SequenceIndex
	})

	if len(ranked) > topK {
		ranked = ranked[:topK]
	}
	return ranked, nil
}

// RankDocument ranks a published document, reusing the result of an
// identical earlier query against the same document version.
func (r *Ranker) RankDocument(ctx context.Context, query string, doc *models.Document, topK int) ([]models.RankedFragment, error) {
	if doc.Empty() {
		return nil, types.ErrNoDocumentLoaded
	}
	if topK <= 0 {
		topK = r.config.DefaultTopK
	}

	key := fmt.Sprintf("%d:%d:%s", doc.Version, topK, strings.Join(QueryTerms(query), " "))
	if cached, ok := r.cache.Get(key); ok {
		return cloneRanked(cached.([]models.RankedFragment)), nil
	}

	ranked, err := r.Rank(ctx, query, doc.Fragments, topK)
	if err != nil {
		return nil, err
	}
	r.cache.SetDefault(key, cloneRanked(ranked))
	return ranked, nil
}

func cloneRanked(in []models.RankedFragment) []models.RankedFragment {
	out := make([]models.RankedFragment, len(in))
	copy(out, in)
	return out
}

// QueryTerms lowercases and splits a query on whitespace, keeping every word
// longer than two characters. A repeated word is kept once per occurrence.
func QueryTerms(query string) []string {
	terms := []string{}
	for _, word := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(word) < minTermLength {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

func distinct(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if !seen[term] {
			seen[term] = true
			out = append(out, term)
		}
	}
	return out
}

// Score computes the relevance of a fragment to a query.
func Score(query string, fragment models.Fragment) int {
	return score(QueryTerms(query), fragment)
}

func score(terms []string, fragment models.Fragment) int {
	if len(terms) == 0 {
		return 0
	}

	words := strings.Fields(strings.ToLower(fragment.Text))
	sectionWords := strings.Fields(strings.ToLower(fragment.Section))

	total := 0
	for _, term := range terms {
		for _, w := range sectionWords {
			if strings.Contains(w, term) {
				total += 2
				break
			}
		}

		for _, w := range words {
			if strings.Contains(w, term) {
				total++
				if w == term {
					total++
				}
			}
		}

		if utf8.RuneCountInString(term) >= fuzzyMinLength {
			for _, w := range words {
				if utf8.RuneCountInString(w) >= fuzzyMinLength && similar(term, w) {
					total++
				}
			}
		}
	}

	return total + proximity(distinct(terms), words)
}

func similar(term, word string) bool {
	return strings.Contains(word, term) ||
		strings.Contains(term, word) ||
		Levenshtein(term, word) <= maxEditDistance
}

// proximity rewards every full window of consecutive words that mentions at
// least two distinct terms.
func proximity(terms, words []string) int {
	bonus := 0
	for i := 0; i+proximityWindow <= len(words); i++ {
		window := words[i : i+proximityWindow]
		matched := 0
		for _, term := range terms {
			for _, w := range window {
				if strings.Contains(w, term) {
					matched++
					break
				}
			}
		}
		if matched >= 2 {
			bonus += matched
		}
	}
	return bonus
}

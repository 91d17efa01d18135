package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"closetapi/vectorindex"
)

// WardrobeItem is one user garment prepared for a completion search call.
// Built per request from image records plus their indexed embeddings.
type WardrobeItem struct {
	Index        int
	ObjectName   string
	ClothingType string
	Embedding    []float32
}

type MatchedItem struct {
	OutfitItemID             string  `json:"outfit_item_id"`
	Score                    float64 `json:"score"`
	WardrobeImageIndex       *int    `json:"wardrobe_image_index"`
	WardrobeImageObjectName  *string `json:"wardrobe_image_object_name"`
	SuggestedItemProductLink *string `json:"suggested_item_product_link"`
	SuggestedItemImageLink   *string `json:"suggested_item_image_link"`
}

type RecommendedOutfit struct {
	OutfitID          string        `json:"outfit_id"`
	CompletenessScore float64       `json:"completeness_score"`
	Matches           []MatchedItem `json:"matches"`
}

type Options struct {
	// minimum similarity for a wardrobe item to pull an outfit into the
	// candidate pool
	ScoreThreshold float64
	// neighbors fetched per wardrobe item during candidate generation
	NeighborLimit int
	// ranked outfits returned to the caller
	LimitOutfits int
	// concurrent candidate scoring fetches, tied to the index connection budget
	Concurrency int
}

const (
	DefaultScoreThreshold = 0.7
	DefaultNeighborLimit  = 50
	DefaultLimitOutfits   = 10
	DefaultConcurrency    = 8
)

func (o Options) withDefaults() Options {
	if o.ScoreThreshold == 0 {
		o.ScoreThreshold = DefaultScoreThreshold
	}
	if o.NeighborLimit <= 0 {
		o.NeighborLimit = DefaultNeighborLimit
	}
	if o.LimitOutfits <= 0 {
		o.LimitOutfits = DefaultLimitOutfits
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	return o
}

// Engine ranks catalog outfits by how completely a wardrobe can assemble
// them. Stateless, safe for concurrent use.
type Engine struct {
	index vectorindex.Index
	opts  Options
}

func NewEngine(index vectorindex.Index, opts Options) *Engine {
	return &Engine{index: index, opts: opts.withDefaults()}
}

// WithLimit returns a copy of the engine that truncates the ranked result to
// the given count.
func (e *Engine) WithLimit(limitOutfits int) *Engine {
	opts := e.opts
	if limitOutfits > 0 {
		opts.LimitOutfits = limitOutfits
	}
	return &Engine{index: e.index, opts: opts}
}

// FindCandidates generates candidate outfits by nearest-neighbor search over
// every wardrobe item, then scores each candidate. An empty candidate pool is
// a valid answer, not an error.
func (e *Engine) FindCandidates(ctx context.Context, wardrobe []WardrobeItem) ([]RecommendedOutfit, error) {
	if len(wardrobe) == 0 {
		return nil, fmt.Errorf("wardrobe is empty")
	}
	candidates, err := e.candidateOutfitIDs(ctx, wardrobe)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []RecommendedOutfit{}, nil
	}
	return e.rank(ctx, wardrobe, candidates)
}

// FindCandidatesV2 skips candidate generation and scores a caller-supplied
// sample of outfit ids, for a fixed evaluation budget.
func (e *Engine) FindCandidatesV2(ctx context.Context, wardrobe []WardrobeItem, outfitIDs []string) ([]RecommendedOutfit, error) {
	if len(wardrobe) == 0 {
		return nil, fmt.Errorf("wardrobe is empty")
	}
	if len(outfitIDs) == 0 {
		return []RecommendedOutfit{}, nil
	}
	return e.rank(ctx, wardrobe, outfitIDs)
}

func (e *Engine) candidateOutfitIDs(ctx context.Context, wardrobe []WardrobeItem) ([]string, error) {
	hitsPerItem := make([][]vectorindex.ScoredPoint, len(wardrobe))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.opts.Concurrency)
	for i := range wardrobe {
		i := i
		group.Go(func() error {
			hits, err := e.index.Search(groupCtx, vectorindex.CollectionOutfitItems,
				wardrobe[i].Embedding, e.opts.ScoreThreshold, e.opts.NeighborLimit, vectorindex.Filter{})
			if err != nil {
				return fmt.Errorf("candidate search for wardrobe item %v: %w", wardrobe[i].Index, err)
			}
			hitsPerItem[i] = hits
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	candidates := []string{}
	for _, hits := range hitsPerItem {
		for _, hit := range hits {
			if hit.OutfitID == "" || seen[hit.OutfitID] {
				continue
			}
			seen[hit.OutfitID] = true
			candidates = append(candidates, hit.OutfitID)
		}
	}
	return candidates, nil
}

// rank scores candidates concurrently. A single candidate's fetch failure is
// logged and skipped so one bad outfit never empties the whole result.
func (e *Engine) rank(ctx context.Context, wardrobe []WardrobeItem, candidates []string) ([]RecommendedOutfit, error) {
	scored := make([]*RecommendedOutfit, len(candidates))
	group := errgroup.Group{}
	group.SetLimit(e.opts.Concurrency)
	for i, outfitID := range candidates {
		i, outfitID := i, outfitID
		group.Go(func() error {
			outfit, err := e.scoreOutfit(ctx, outfitID, wardrobe)
			if err != nil {
				fmt.Printf("[Outfit: %v] Failed to score candidate, skipping: %v\n", outfitID, err)
				sentry.CaptureException(err)
				return nil
			}
			scored[i] = outfit
			return nil
		})
	}
	group.Wait()

	results := []RecommendedOutfit{}
	for _, outfit := range scored {
		if outfit != nil {
			results = append(results, *outfit)
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].CompletenessScore > results[b].CompletenessScore
	})
	if len(results) > e.opts.LimitOutfits {
		results = results[:e.opts.LimitOutfits]
	}
	return results, nil
}

// scoreOutfit greedily assigns wardrobe items to this outfit's slots, one
// wardrobe item per slot, type equality gated. Returns nil for an outfit with
// no indexed points.
func (e *Engine) scoreOutfit(ctx context.Context, outfitID string, wardrobe []WardrobeItem) (*RecommendedOutfit, error) {
	points, err := e.index.ScrollByPayload(ctx, vectorindex.CollectionOutfitItems,
		vectorindex.Filter{OutfitID: outfitID})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		// index inconsistency, the outfit is unscorable
		return nil, nil
	}

	used := map[int]bool{}
	matches := make([]MatchedItem, 0, len(points))
	matchedSum := 0.0
	matchedCount := 0
	totalScore := 0.0

	for _, point := range points {
		best := -1
		bestScore := -1.0
		for w := range wardrobe {
			item := &wardrobe[w]
			if used[item.Index] || item.ClothingType != point.ClothingType {
				continue
			}
			score := cosineSimilarity(item.Embedding, point.Vector)
			if score > bestScore {
				bestScore = score
				best = w
			}
		}

		if best >= 0 {
			item := &wardrobe[best]
			used[item.Index] = true
			matchedSum += bestScore
			matchedCount++
			totalScore += bestScore
			matches = append(matches, MatchedItem{
				OutfitItemID:            point.ID,
				Score:                   bestScore,
				WardrobeImageIndex:      intPtr(item.Index),
				WardrobeImageObjectName: strPtr(item.ObjectName),
			})
			continue
		}

		// gap slot, discounted by the running mean of matches made so far
		gapScore := 0.0
		if matchedCount > 0 {
			gapScore = 0.5 * (matchedSum / float64(matchedCount))
		}
		totalScore += gapScore
		suggestion := SuggestionFor(point.ClothingType)
		matches = append(matches, MatchedItem{
			OutfitItemID:             point.ID,
			Score:                    gapScore,
			SuggestedItemProductLink: strPtr(suggestion.ProductLink),
			SuggestedItemImageLink:   strPtr(suggestion.ImageLink),
		})
	}

	return &RecommendedOutfit{
		OutfitID:          outfitID,
		CompletenessScore: totalScore / float64(len(points)),
		Matches:           matches,
	}, nil
}

// cosineSimilarity over pre-normalized vectors reduces to a dot product.
func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dot := 0.0
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func intPtr(v int) *int {
	return &v
}

func strPtr(v string) *string {
	return &v
}

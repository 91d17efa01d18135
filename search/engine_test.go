package search

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"closetapi/vectorindex"
)

type fakeIndex struct {
	points    map[vectorindex.Collection][]vectorindex.Point
	scrollErr map[string]error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		points:    map[vectorindex.Collection][]vectorindex.Point{},
		scrollErr: map[string]error{},
	}
}

func (f *fakeIndex) add(collection vectorindex.Collection, p vectorindex.Point) {
	f.points[collection] = append(f.points[collection], p)
}

func matchesFilter(p vectorindex.Point, filter vectorindex.Filter) bool {
	if filter.OutfitID != "" && p.OutfitID != filter.OutfitID {
		return false
	}
	if filter.WardrobeImageID != 0 && p.WardrobeImageID != filter.WardrobeImageID {
		return false
	}
	if filter.UserID != 0 && p.UserID != filter.UserID {
		return false
	}
	if filter.ClothingType != "" && p.ClothingType != filter.ClothingType {
		return false
	}
	return true
}

func (f *fakeIndex) Upsert(ctx context.Context, collection vectorindex.Collection, points []vectorindex.Point) error {
	for _, p := range points {
		f.add(collection, p)
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, collection vectorindex.Collection, vector []float32, threshold float64, limit int, filter vectorindex.Filter) ([]vectorindex.ScoredPoint, error) {
	hits := []vectorindex.ScoredPoint{}
	for _, p := range f.points[collection] {
		if !matchesFilter(p, filter) {
			continue
		}
		score := cosineSimilarity(vector, p.Vector)
		if score >= threshold {
			hits = append(hits, vectorindex.ScoredPoint{Point: p, Score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeIndex) GetByID(ctx context.Context, collection vectorindex.Collection, id string) (*vectorindex.Point, error) {
	for _, p := range f.points[collection] {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, nil
}

func (f *fakeIndex) ScrollByPayload(ctx context.Context, collection vectorindex.Collection, filter vectorindex.Filter) ([]vectorindex.Point, error) {
	if err := f.scrollErr[filter.OutfitID]; err != nil {
		return nil, err
	}
	points := []vectorindex.Point{}
	for _, p := range f.points[collection] {
		if matchesFilter(p, filter) {
			points = append(points, p)
		}
	}
	sort.SliceStable(points, func(a, b int) bool { return points[a].ID < points[b].ID })
	return points, nil
}

func (f *fakeIndex) DeleteByID(ctx context.Context, collection vectorindex.Collection, ids []string) error {
	return nil
}

func (f *fakeIndex) DeleteByPayload(ctx context.Context, collection vectorindex.Collection, filter vectorindex.Filter) error {
	return nil
}

func outfitPoint(id, outfitID, clothingType string, vector []float32) vectorindex.Point {
	return vectorindex.Point{
		ID:     id,
		Vector: vector,
		Payload: vectorindex.Payload{
			OutfitID:     outfitID,
			ClothingType: clothingType,
		},
	}
}

var (
	axisX = []float32{1, 0, 0}
	axisY = []float32{0, 1, 0}
	axisZ = []float32{0, 0, 1}
)

func TestIdenticalShirtWithPantsGap(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("b-pants", "o1", "pants", axisY))
	engine := NewEngine(index, Options{})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"o1"})
	assert.NoError(t, err)
	assert.Len(t, results, 1)

	outfit := results[0]
	assert.Equal(t, "o1", outfit.OutfitID)
	assert.Len(t, outfit.Matches, 2)

	shirt := outfit.Matches[0]
	assert.Equal(t, "a-shirt", shirt.OutfitItemID)
	assert.InDelta(t, 1.0, shirt.Score, 1e-6)
	assert.NotNil(t, shirt.WardrobeImageIndex)
	assert.Equal(t, 0, *shirt.WardrobeImageIndex)
	assert.Equal(t, "shirt.jpg", *shirt.WardrobeImageObjectName)
	assert.Nil(t, shirt.SuggestedItemProductLink)

	pants := outfit.Matches[1]
	assert.Equal(t, "b-pants", pants.OutfitItemID)
	assert.InDelta(t, 0.5, pants.Score, 1e-6)
	assert.Nil(t, pants.WardrobeImageIndex)
	assert.NotNil(t, pants.SuggestedItemProductLink)
	assert.NotNil(t, pants.SuggestedItemImageLink)

	assert.InDelta(t, 0.75, outfit.CompletenessScore, 1e-6)
}

func TestTwoShirtSlotsGetDistinctWardrobeShirts(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("b-shirt", "o1", "shirt", axisY))
	engine := NewEngine(index, Options{})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "first.jpg", ClothingType: "shirt", Embedding: axisX},
		{Index: 1, ObjectName: "second.jpg", ClothingType: "shirt", Embedding: axisY},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"o1"})
	assert.NoError(t, err)
	assert.Len(t, results, 1)

	matches := results[0].Matches
	assert.Len(t, matches, 2)
	assert.NotNil(t, matches[0].WardrobeImageIndex)
	assert.NotNil(t, matches[1].WardrobeImageIndex)
	assert.NotEqual(t, *matches[0].WardrobeImageIndex, *matches[1].WardrobeImageIndex)
}

func TestTypeGateBeatsEmbeddingSimilarity(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-pants", "o1", "pants", axisX))
	engine := NewEngine(index, Options{})

	// identical vector, wrong type: must stay a gap
	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"o1"})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	match := results[0].Matches[0]
	assert.Nil(t, match.WardrobeImageIndex)
	assert.NotNil(t, match.SuggestedItemProductLink)
	assert.Equal(t, 0.0, match.Score)
	assert.Equal(t, 0.0, results[0].CompletenessScore)
}

func TestOutfitWithoutPointsIsSkipped(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	engine := NewEngine(index, Options{})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"ghost", "o1"})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "o1", results[0].OutfitID)
}

func TestFailedCandidateFetchIsSkipped(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt-2", "o2", "shirt", axisX))
	index.scrollErr["o2"] = fmt.Errorf("connection reset")
	engine := NewEngine(index, Options{})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"o1", "o2"})
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, "o1", results[0].OutfitID)
}

func TestHighThresholdYieldsEmptyResult(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	engine := NewEngine(index, Options{ScoreThreshold: 1.01})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "a.jpg", ClothingType: "shirt", Embedding: axisX},
		{Index: 1, ObjectName: "b.jpg", ClothingType: "pants", Embedding: axisY},
		{Index: 2, ObjectName: "c.jpg", ClothingType: "shoe", Embedding: axisZ},
	}
	results, err := engine.FindCandidates(context.Background(), wardrobe)
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestEmptyWardrobeIsAnError(t *testing.T) {
	engine := NewEngine(newFakeIndex(), Options{})

	_, err := engine.FindCandidates(context.Background(), nil)
	assert.Error(t, err)

	_, err = engine.FindCandidatesV2(context.Background(), nil, []string{"o1"})
	assert.Error(t, err)
}

func TestCandidateGenerationUnionsNeighborOutfits(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("b-pants", "o2", "pants", axisY))
	// far from both wardrobe vectors, never a candidate
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("c-shoe", "o3", "shoe", axisZ))
	engine := NewEngine(index, Options{})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
		{Index: 1, ObjectName: "pants.jpg", ClothingType: "pants", Embedding: axisY},
	}
	results, err := engine.FindCandidates(context.Background(), wardrobe)
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	found := map[string]bool{}
	for _, outfit := range results {
		found[outfit.OutfitID] = true
	}
	assert.True(t, found["o1"])
	assert.True(t, found["o2"])
}

func TestRankingIsSortedAndTruncated(t *testing.T) {
	index := newFakeIndex()
	// o1 fully matched, o2 half gap, o3 all gap
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("b-shirt", "o2", "shirt", axisX))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("c-hat", "o2", "hat", axisZ))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("d-hat", "o3", "hat", axisZ))
	engine := NewEngine(index, Options{LimitOutfits: 2})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"o3", "o2", "o1"})
	assert.NoError(t, err)
	assert.Len(t, results, 2)
	assert.Equal(t, "o1", results[0].OutfitID)
	assert.Equal(t, "o2", results[1].OutfitID)
	assert.InDelta(t, 1.0, results[0].CompletenessScore, 1e-6)
	assert.InDelta(t, 0.75, results[1].CompletenessScore, 1e-6)
}

func TestGapBeforeAnyMatchScoresZero(t *testing.T) {
	index := newFakeIndex()
	// ids force the hat slot to be scored before the shirt slot
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-hat", "o1", "hat", axisZ))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("b-shirt", "o1", "shirt", axisX))
	engine := NewEngine(index, Options{})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"o1"})
	assert.NoError(t, err)
	assert.Len(t, results, 1)

	matches := results[0].Matches
	assert.Equal(t, 0.0, matches[0].Score)
	assert.InDelta(t, 1.0, matches[1].Score, 1e-6)
	assert.InDelta(t, 0.5, results[0].CompletenessScore, 1e-6)
}

func TestCompletenessIsMeanOverAllSlots(t *testing.T) {
	index := newFakeIndex()
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("a-shirt", "o1", "shirt", axisX))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("b-pants", "o1", "pants", axisY))
	index.add(vectorindex.CollectionOutfitItems, outfitPoint("c-hat", "o1", "hat", axisZ))
	engine := NewEngine(index, Options{})

	wardrobe := []WardrobeItem{
		{Index: 0, ObjectName: "shirt.jpg", ClothingType: "shirt", Embedding: axisX},
		{Index: 1, ObjectName: "pants.jpg", ClothingType: "pants", Embedding: axisY},
	}
	results, err := engine.FindCandidatesV2(context.Background(), wardrobe, []string{"o1"})
	assert.NoError(t, err)
	assert.Len(t, results, 1)

	outfit := results[0]
	assert.Len(t, outfit.Matches, 3)
	sum := 0.0
	for _, m := range outfit.Matches {
		sum += m.Score
	}
	assert.InDelta(t, sum/3, outfit.CompletenessScore, 1e-9)
	// two perfect matches then a 0.5-discounted gap
	assert.InDelta(t, (1.0+1.0+0.5)/3, outfit.CompletenessScore, 1e-6)
}

package vectorindex

import "fmt"

// Collection names the two point tables the index manages.
type Collection string

const (
	CollectionOutfitItems   Collection = "outfit_item_points"
	CollectionWardrobeItems Collection = "wardrobe_item_points"
)

func (c Collection) Valid() bool {
	return c == CollectionOutfitItems || c == CollectionWardrobeItems
}

// Point is one indexed garment embedding with its payload.
type Point struct {
	ID     string
	Vector []float32
	Payload
}

type Payload struct {
	// OutfitID groups points of the same catalog outfit. Empty for wardrobe points.
	OutfitID string `json:"outfit_id,omitempty"`
	// WardrobeImageID is the owning wardrobe image. Zero for outfit points.
	WardrobeImageID uint   `json:"wardrobe_image_id,omitempty"`
	UserID          uint   `json:"user_id,omitempty"`
	ClothingType    string `json:"clothing_type"`
}

// ScoredPoint is a search hit, score is cosine similarity in [0, 1].
type ScoredPoint struct {
	Point
	Score float64
}

// Filter narrows a search or scroll to matching payload columns.
// Zero values mean "no constraint".
type Filter struct {
	OutfitID        string
	WardrobeImageID uint
	UserID          uint
	ClothingType    string
}

func (f Filter) empty() bool {
	return f.OutfitID == "" && f.WardrobeImageID == 0 && f.UserID == 0 && f.ClothingType == ""
}

func (p *Point) validate(dim int) error {
	if p.ID == "" {
		return fmt.Errorf("point has no id")
	}
	if len(p.Vector) != dim {
		return fmt.Errorf("point %v has vector of size %v, index expects %v", p.ID, len(p.Vector), dim)
	}
	return nil
}

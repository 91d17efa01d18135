package search

// Suggestion is the external substitute offered for an outfit slot the
// wardrobe cannot fill.
type Suggestion struct {
	ProductLink string
	ImageLink   string
}

// staticSuggestions maps clothing types to curated shop links. Gaps for
// unknown types fall back to a generic catalog search.
var staticSuggestions = map[string]Suggestion{
	"sunglass": {
		ProductLink: "https://www.asos.com/search/?q=sunglasses",
		ImageLink:   "https://images.asos-media.com/products/sunglasses-classic/sample-1",
	},
	"hat": {
		ProductLink: "https://www.asos.com/search/?q=hat",
		ImageLink:   "https://images.asos-media.com/products/hat-classic/sample-1",
	},
	"jacket": {
		ProductLink: "https://www.asos.com/search/?q=jacket",
		ImageLink:   "https://images.asos-media.com/products/jacket-classic/sample-1",
	},
	"shirt": {
		ProductLink: "https://www.asos.com/search/?q=shirt",
		ImageLink:   "https://images.asos-media.com/products/shirt-classic/sample-1",
	},
	"pants": {
		ProductLink: "https://www.asos.com/search/?q=pants",
		ImageLink:   "https://images.asos-media.com/products/pants-classic/sample-1",
	},
	"shorts": {
		ProductLink: "https://www.asos.com/search/?q=shorts",
		ImageLink:   "https://images.asos-media.com/products/shorts-classic/sample-1",
	},
	"skirt": {
		ProductLink: "https://www.asos.com/search/?q=skirt",
		ImageLink:   "https://images.asos-media.com/products/skirt-classic/sample-1",
	},
	"dress": {
		ProductLink: "https://www.asos.com/search/?q=dress",
		ImageLink:   "https://images.asos-media.com/products/dress-classic/sample-1",
	},
	"shoe": {
		ProductLink: "https://www.asos.com/search/?q=shoes",
		ImageLink:   "https://images.asos-media.com/products/shoe-classic/sample-1",
	},
}

func SuggestionFor(clothingType string) Suggestion {
	if s, ok := staticSuggestions[clothingType]; ok {
		return s
	}
	return Suggestion{
		ProductLink: "https://www.asos.com/search/?q=" + clothingType,
		ImageLink:   "https://images.asos-media.com/products/placeholder/sample-1",
	}
}

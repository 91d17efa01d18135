package models

import "encoding/json"

type WardrobeImageIn struct {
	Name               string `json:"name" validate:"required"`
	AlertWhenProcessed bool   `json:"alert_when_processed"`
}

type WardrobeImageUploadOut struct {
	Id        uint   `json:"id"`
	UploadUrl string `json:"upload_url"`
}

type WardrobeImageOut struct {
	Id               uint    `json:"id"`
	Name             string  `json:"name"`
	ClothingType     *string `json:"clothing_type"`
	ImageStatus      string  `json:"image_status"`
	ProcessingStatus string  `json:"processing_status"`
	ImageURL         *string `json:"image_url"`
	ThumbnailURL     *string `json:"thumbnail_url"`
}

type OutfitIn struct {
	Name        string  `json:"name" validate:"required"`
	Description *string `json:"description"`
}

type OutfitOut struct {
	Id               uint    `json:"id"`
	Name             string  `json:"name"`
	Description      *string `json:"description"`
	ImageStatus      string  `json:"image_status"`
	ProcessingStatus string  `json:"processing_status"`
	ImageURL         *string `json:"image_url"`
	ItemCount        int     `json:"item_count"`
}

type RecommendIn struct {
	LimitOutfits int    `json:"limit_outfits"`
	ImageIDs     []uint `json:"image_ids"`
}

type SavedOutfitIn struct {
	OutfitID          uint            `json:"outfit_id" validate:"required"`
	CompletenessScore float64         `json:"completeness_score"`
	Matches           json.RawMessage `json:"matches"`
}

type SavedOutfitOut struct {
	Id                uint            `json:"id"`
	OutfitID          uint            `json:"outfit_id"`
	CompletenessScore float64         `json:"completeness_score"`
	Matches           json.RawMessage `json:"matches"`
}

package models

import "github.com/lib/pq"

type WardrobeImage struct {
	JsonModel
	Owner        UserAccount `json:"-"`
	OwnerID      uint        `json:"-"`
	Name         string      `json:"name"`
	ClothingType *string     `json:"clothing_type"` // shirt, pants, dress etc, set after segmentation
	// object key inside the images bucket, uuid hex
	ObjectName         string         `json:"-"`
	ThumbnailObjectKey *string        `json:"-"`
	ImageStatus        string         `json:"image_status"`      // draft, uploaded
	ProcessingStatus   string         `json:"processing_status"` // idle, processing, completed, failed
	ProcessRetryTimes  int            `json:"process_retry_times"`
	ProcessErrorMsg    *string        `json:"process_error_message"`
	AlertWhenProcessed bool           `json:"alert_when_processed"`
	PointIDs           pq.StringArray `gorm:"type:text[]" json:"-"`
}

type Outfit struct {
	JsonModel
	Owner            UserAccount `json:"-"`
	OwnerID          uint        `json:"-"`
	Name             string      `json:"name"`
	Description      *string     `gorm:"type:text" json:"description"`
	ObjectName       string      `json:"-"`
	ImageStatus      string      `json:"image_status"`      // draft, uploaded
	ProcessingStatus string      `json:"processing_status"` // idle, processing, completed, failed
	ProcessErrorMsg  *string     `json:"process_error_message"`
	// point ids of the garments indexed for this outfit
	ItemPointIDs pq.StringArray `gorm:"type:text[]" json:"-"`
}

type SavedOutfit struct {
	JsonModel
	Owner             UserAccount `json:"-"`
	OwnerID           uint        `json:"-"`
	OutfitID          uint        `json:"outfit_id"`
	Outfit            Outfit      `json:"outfit"`
	CompletenessScore float64     `json:"completeness_score"`
	// serialized matched item list as returned by the recommender
	Matches string `gorm:"type:text" json:"-"`
}

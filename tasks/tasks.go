package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/lib/pq"
	"gorm.io/gorm"

	"closetapi/models"
	"closetapi/services"
	"closetapi/vectorindex"
)

type WardrobeImagePayload struct {
	ImageID uint `json:"image_id"`
}

type OutfitPayload struct {
	OutfitID uint `json:"outfit_id"`
}

type IndexPurgePayload struct {
	Collection  string   `json:"collection"`
	PointIDs    []string `json:"point_ids"`
	ObjectNames []string `json:"object_names"`
}

// Client initializes an asynq client for enqueuing tasks
func NewClient() (*asynq.Client, error) {
	return asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("ASYNC_BROKER_ADDRESS")}), nil
}

func NewWardrobeImageProcessingTask(imageID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(WardrobeImagePayload{ImageID: imageID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask("wardrobe:process_image", payload), nil

}

func NewOutfitProcessingTask(outfitID uint) (*asynq.Task, error) {
	payload, err := json.Marshal(OutfitPayload{OutfitID: outfitID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask("outfit:process", payload), nil

}

// NewIndexPurgeTask cleans up index points and stored objects after their
// owning record is already deleted.
func NewIndexPurgeTask(collection vectorindex.Collection, pointIDs []string, objectNames []string) (*asynq.Task, error) {
	payload, err := json.Marshal(IndexPurgePayload{
		Collection:  string(collection),
		PointIDs:    pointIDs,
		ObjectNames: objectNames,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask("index:purge", payload), nil

}

func getObjectBytes(awsService services.AWSServiceProvider, objectName string, entity string, id uint) ([]byte, error) {
	bucketName := os.Getenv("R2_BUCKET_NAME")
	fmt.Printf("[%s: %v] Request presigned download url for %s\n", entity, id, objectName)
	fileUrl, err := awsService.GetPresignedR2FileReadURL(context.TODO(), bucketName, objectName)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[%s: %v] Error on getting presigned URL for file %s", entity, id, objectName))
		return nil, err
	}
	fileBytes, err := services.ReadFileFromUrl(fileUrl)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[%s: %v] Error on downloading file %s: %v", entity, id, objectName, err))
		return nil, err
	}

	return fileBytes, nil
}

func uploadObject(awsService services.AWSServiceProvider, objectName string, content []byte, entity string, id uint) error {
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")
	uploadUrl, err := awsService.PresignLink(context.Background(), bucketName, objectName)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[%s: %v] Unable to create presign link for %s: %v", entity, id, objectName, err))
		return err
	}
	respBody, statusCode, err := awsService.UploadToPresignedURL(context.Background(), bucketName, uploadUrl, content)
	fmt.Printf("[%s: %v] R2 upload %s size %v, response body: %s, status code: %d\n", entity, id, objectName, len(content), respBody, statusCode)
	if err != nil || statusCode != 200 {
		sentry.CaptureException(fmt.Errorf("[%s: %v] Error on uploading %s: %v", entity, id, objectName, err))
		if err == nil {
			err = fmt.Errorf("upload returned status %d", statusCode)
		}
		return err
	}
	return nil
}

// resolveGarmentLabels drops unindexable detections and fills unknown labels
// via the classifier. Returns garments paired with their final labels.
func resolveGarmentLabels(ctx context.Context, garments []services.SegmentedGarment, classifier services.ClothingClassifierProvider, entity string, id uint) []services.SegmentedGarment {
	kept := make([]services.SegmentedGarment, 0, len(garments))
	for _, garment := range garments {
		label := strings.ToLower(strings.TrimSpace(garment.Label))
		if label == "bag" {
			// detected but never indexed
			continue
		}
		if !services.IsKnownClothingType(label) {
			classified, err := classifier.ClassifyClothing(ctx, garment.Image, services.Flash20)
			if err != nil {
				fmt.Printf("[%s: %v] Skipping crop with unclassifiable label %q: %v\n", entity, id, garment.Label, err)
				sentry.CaptureException(fmt.Errorf("[%s: %v] unclassifiable garment label %q: %v", entity, id, garment.Label, err))
				continue
			}
			label = classified
		}
		garment.Label = label
		kept = append(kept, garment)
	}
	return kept
}

// HandleProcessWardrobeImageTask segments an uploaded closet photo, embeds
// each garment and upserts the vectors into the wardrobe collection.
func HandleProcessWardrobeImageTask(
	ctx context.Context, t *asynq.Task, db *gorm.DB,
	awsService services.AWSServiceProvider, encoder services.EmbeddingEncoderProvider,
	segmenter services.GarmentSegmenterProvider, classifier services.ClothingClassifierProvider,
	index vectorindex.Index, fbApp *firebase.App) error {
	var payload WardrobeImagePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Image: %v] Start Processing\n", payload.ImageID)
	var image models.WardrobeImage
	res := db.First(&image, payload.ImageID)
	if res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on retrieving image for processing %v", payload.ImageID))
		return res.Error
	}
	if image.ImageStatus != "uploaded" {
		sentry.CaptureException(fmt.Errorf("[Image: %v] Image bytes were never uploaded, status %s", payload.ImageID, image.ImageStatus))
		return saveImageProcessingFail(db, image, "Image was not uploaded, please create it again", false)
	}

	image.ProcessingStatus = "processing"
	if err := db.Omit("alert_when_processed").Save(&image).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[Image: %v] Error on saving processing status: %v", payload.ImageID, err))
		return err
	}

	imageBytes, err := getObjectBytes(awsService, image.ObjectName, "Image", image.ID)
	if err != nil {
		saveImageProcessingFail(db, image, "Failed to read the uploaded image, please try again", true)
		return err
	}
	fmt.Printf("[Image: %v] Downloaded file size: %d bytes\n", payload.ImageID, len(imageBytes))

	garments, err := segmenter.Segment(ctx, imageBytes)
	if err != nil {
		saveImageProcessingFail(db, image, "Failed to detect clothing in the image, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Image: %v] Error on segmenting: %v", payload.ImageID, err))
		return err
	}
	if len(garments) == 0 {
		// single-garment photo the detector cannot split, classify it whole
		garments = []services.SegmentedGarment{{Label: "", Image: imageBytes}}
	}
	garments = resolveGarmentLabels(ctx, garments, classifier, "Image", image.ID)
	if len(garments) == 0 {
		saveImageProcessingFail(db, image, "No clothing items found in the image", false)
		return nil
	}

	// thumbnail from the whitened original, for closet listing
	whitened, err := services.WhitenBackgroundFeathered(imageBytes, 200, 240, 0.5)
	if err != nil {
		fmt.Printf("[Image: %v] Whitening failed, using original for thumbnail: %v\n", payload.ImageID, err)
		whitened = imageBytes
	}
	thumbnail, err := services.GenerateThumbnail(whitened, 320)
	if err != nil {
		sentry.CaptureException(fmt.Errorf("[Image: %v] Error on generating thumbnail: %v", payload.ImageID, err))
	} else {
		thumbnailKey := fmt.Sprintf("thumbnails/%s.png", strings.ReplaceAll(uuid.New().String(), "-", ""))
		if err := uploadObject(awsService, thumbnailKey, thumbnail, "Image", image.ID); err == nil {
			image.ThumbnailObjectKey = &thumbnailKey
		}
	}

	crops := make([][]byte, len(garments))
	for i, garment := range garments {
		crops[i] = garment.Image
	}
	embeddings, err := encoder.Embed(ctx, crops)
	if err != nil {
		saveImageProcessingFail(db, image, "Failed to analyze the image, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Image: %v] Error on embedding crops: %v", payload.ImageID, err))
		return err
	}

	points := make([]vectorindex.Point, len(garments))
	pointIDs := make([]string, len(garments))
	for i, garment := range garments {
		pointID := uuid.New().String()
		pointIDs[i] = pointID
		points[i] = vectorindex.Point{
			ID:     pointID,
			Vector: embeddings[i],
			Payload: vectorindex.Payload{
				UserID:          image.OwnerID,
				WardrobeImageID: image.ID,
				ClothingType:    garment.Label,
			},
		}
	}
	if err := index.Upsert(ctx, vectorindex.CollectionWardrobeItems, points); err != nil {
		saveImageProcessingFail(db, image, "Failed to index the image, please try again", true)
		sentry.CaptureException(fmt.Errorf("[Image: %v] Error on upserting points: %v", payload.ImageID, err))
		return err
	}

	image.PointIDs = pq.StringArray(pointIDs)
	image.ClothingType = services.StrPointer(garments[0].Label)
	image.ProcessingStatus = "completed"
	image.ProcessErrorMsg = nil
	tx := db.Omit("alert_when_processed").Save(&image)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on saving image %v", payload.ImageID))
		return tx.Error
	}
	fmt.Printf("[Image: %v] Processing finished succesfully, %d garments indexed\n", payload.ImageID, len(points))
	if image.AlertWhenProcessed {
		fmt.Printf("[Image: %v] Sending notification to user %v\n", payload.ImageID, image.OwnerID)
		services.SendNotification(fbApp, db, image.OwnerID, "Closet Item Ready",
			fmt.Sprintf("Your item %s is ready for outfit matching", image.Name),
			map[string]string{"image_id": fmt.Sprintf("%d", image.ID), "type": "image_processed"})
	}
	return nil
}

// HandleProcessOutfitTask indexes every garment of a catalog outfit photo
// into the outfit-items collection.
func HandleProcessOutfitTask(
	ctx context.Context, t *asynq.Task, db *gorm.DB,
	awsService services.AWSServiceProvider, encoder services.EmbeddingEncoderProvider,
	segmenter services.GarmentSegmenterProvider, classifier services.ClothingClassifierProvider,
	index vectorindex.Index) error {
	var payload OutfitPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Outfit: %v] Start Processing\n", payload.OutfitID)
	var outfit models.Outfit
	res := db.First(&outfit, payload.OutfitID)
	if res.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on retrieving outfit for processing %v", payload.OutfitID))
		return res.Error
	}
	if outfit.ImageStatus != "uploaded" {
		sentry.CaptureException(fmt.Errorf("[Outfit: %v] Outfit image was never uploaded, status %s", payload.OutfitID, outfit.ImageStatus))
		return saveOutfitProcessingFail(db, outfit, "Outfit image was not uploaded", false)
	}

	outfit.ProcessingStatus = "processing"
	if err := db.Save(&outfit).Error; err != nil {
		sentry.CaptureException(fmt.Errorf("[Outfit: %v] Error on saving processing status: %v", payload.OutfitID, err))
		return err
	}

	imageBytes, err := getObjectBytes(awsService, outfit.ObjectName, "Outfit", outfit.ID)
	if err != nil {
		saveOutfitProcessingFail(db, outfit, "Failed to read the outfit image", true)
		return err
	}

	garments, err := segmenter.Segment(ctx, imageBytes)
	if err != nil {
		saveOutfitProcessingFail(db, outfit, "Failed to detect clothing in the outfit image", true)
		sentry.CaptureException(fmt.Errorf("[Outfit: %v] Error on segmenting: %v", payload.OutfitID, err))
		return err
	}
	garments = resolveGarmentLabels(ctx, garments, classifier, "Outfit", outfit.ID)
	if len(garments) == 0 {
		saveOutfitProcessingFail(db, outfit, "No clothing items found in the outfit image", false)
		return nil
	}

	crops := make([][]byte, len(garments))
	for i, garment := range garments {
		crops[i] = garment.Image
	}
	embeddings, err := encoder.Embed(ctx, crops)
	if err != nil {
		saveOutfitProcessingFail(db, outfit, "Failed to analyze the outfit image", true)
		sentry.CaptureException(fmt.Errorf("[Outfit: %v] Error on embedding crops: %v", payload.OutfitID, err))
		return err
	}

	outfitIDString := fmt.Sprintf("%d", outfit.ID)
	points := make([]vectorindex.Point, len(garments))
	pointIDs := make([]string, len(garments))
	for i, garment := range garments {
		pointID := uuid.New().String()
		pointIDs[i] = pointID
		points[i] = vectorindex.Point{
			ID:     pointID,
			Vector: embeddings[i],
			Payload: vectorindex.Payload{
				OutfitID:     outfitIDString,
				ClothingType: garment.Label,
			},
		}
	}
	if err := index.Upsert(ctx, vectorindex.CollectionOutfitItems, points); err != nil {
		saveOutfitProcessingFail(db, outfit, "Failed to index the outfit", true)
		sentry.CaptureException(fmt.Errorf("[Outfit: %v] Error on upserting points: %v", payload.OutfitID, err))
		return err
	}

	outfit.ItemPointIDs = pq.StringArray(pointIDs)
	outfit.ProcessingStatus = "completed"
	outfit.ProcessErrorMsg = nil
	tx := db.Save(&outfit)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[QUEUE] Error on saving outfit %v", payload.OutfitID))
		return tx.Error
	}
	fmt.Printf("[Outfit: %v] Processing finished succesfully, %d garments indexed\n", payload.OutfitID, len(points))
	return nil
}

// HandlePurgeIndexTask removes index points and stored objects for records
// that are already gone from the metadata store.
func HandlePurgeIndexTask(
	ctx context.Context, t *asynq.Task,
	awsService services.AWSServiceProvider, index vectorindex.Index) error {
	var payload IndexPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}
	fmt.Printf("[Purge] Collection %s, %d points, %d objects\n", payload.Collection, len(payload.PointIDs), len(payload.ObjectNames))

	if len(payload.PointIDs) > 0 {
		if err := index.DeleteByID(ctx, vectorindex.Collection(payload.Collection), payload.PointIDs); err != nil {
			sentry.CaptureException(fmt.Errorf("[Purge] Error deleting points: %v", err))
			return err
		}
	}

	bucketName := services.GetEnv("R2_BUCKET_NAME", "")
	for _, objectName := range payload.ObjectNames {
		if err := awsService.DeleteObject(ctx, bucketName, objectName); err != nil {
			fmt.Printf("[Purge] Error deleting object %s: %v\n", objectName, err)
			sentry.CaptureException(fmt.Errorf("[Purge] Error deleting object %s: %v", objectName, err))
		}
	}
	return nil
}

func NewDeletedAccountsPurgeTask() *asynq.Task {
	return asynq.NewTask("accounts:purge_deleted", []byte{})
}

// HandlePurgeDeletedAccountsTask removes accounts whose deletion was confirmed
// more than 7 days ago, together with their wardrobe, outfits and index points.
func HandlePurgeDeletedAccountsTask(
	ctx context.Context, t *asynq.Task, db *gorm.DB,
	awsService services.AWSServiceProvider, index vectorindex.Index) error {
	cutoff := time.Now().AddDate(0, 0, -7)
	var users []models.UserAccount
	if err := db.Where("confirmed_delete_date is not null and confirmed_delete_date < ?", cutoff).Find(&users).Error; err != nil {
		sentry.CaptureException(err)
		return err
	}
	bucketName := services.GetEnv("R2_BUCKET_NAME", "")
	for _, user := range users {
		fmt.Printf("[Purge Account: %v] Deleting account and closet data\n", user.ID)

		var images []models.WardrobeImage
		db.Where("owner_id = ?", user.ID).Find(&images)
		for _, image := range images {
			if len(image.PointIDs) > 0 {
				if err := index.DeleteByID(ctx, vectorindex.CollectionWardrobeItems, image.PointIDs); err != nil {
					sentry.CaptureException(err)
					return err
				}
			}
			if err := awsService.DeleteObject(ctx, bucketName, image.ObjectName); err != nil {
				fmt.Printf("[Purge Account: %v] Error deleting object %s: %v\n", user.ID, image.ObjectName, err)
				sentry.CaptureException(err)
			}
			if image.ThumbnailObjectKey != nil {
				if err := awsService.DeleteObject(ctx, bucketName, *image.ThumbnailObjectKey); err != nil {
					fmt.Printf("[Purge Account: %v] Error deleting object %s: %v\n", user.ID, *image.ThumbnailObjectKey, err)
					sentry.CaptureException(err)
				}
			}
		}

		var outfits []models.Outfit
		db.Where("owner_id = ?", user.ID).Find(&outfits)
		outfitIds := make([]uint, 0, len(outfits))
		for _, outfit := range outfits {
			outfitIds = append(outfitIds, outfit.ID)
			if len(outfit.ItemPointIDs) > 0 {
				if err := index.DeleteByID(ctx, vectorindex.CollectionOutfitItems, outfit.ItemPointIDs); err != nil {
					sentry.CaptureException(err)
					return err
				}
			}
			if err := awsService.DeleteObject(ctx, bucketName, outfit.ObjectName); err != nil {
				fmt.Printf("[Purge Account: %v] Error deleting object %s: %v\n", user.ID, outfit.ObjectName, err)
				sentry.CaptureException(err)
			}
		}

		// other users may have saved the purged outfits
		if len(outfitIds) > 0 {
			db.Where("outfit_id in ?", outfitIds).Delete(&models.SavedOutfit{})
		}
		db.Where("owner_id = ?", user.ID).Delete(&models.SavedOutfit{})
		db.Where("owner_id = ?", user.ID).Delete(&models.Outfit{})
		db.Where("owner_id = ?", user.ID).Delete(&models.WardrobeImage{})
		db.Where("user_account_id = ?", user.ID).Delete(&models.UserPushToken{})
		if err := db.Delete(&user).Error; err != nil {
			sentry.CaptureException(err)
			return err
		}
	}
	return nil
}

func saveImageProcessingFail(db *gorm.DB, image models.WardrobeImage, msg string, shouldRetry bool) error {
	image.ProcessRetryTimes = image.ProcessRetryTimes + 1
	image.ProcessErrorMsg = &msg
	if !shouldRetry || image.ProcessRetryTimes >= 3 {

		image.ProcessingStatus = "failed"
	}
	tx := db.Omit("alert_when_processed").Save(&image)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Fail Image %v] Error on saving image for failed status", image.ID))
		return tx.Error
	}
	return nil
}

func saveOutfitProcessingFail(db *gorm.DB, outfit models.Outfit, msg string, shouldRetry bool) error {
	outfit.ProcessErrorMsg = &msg
	if !shouldRetry {
		outfit.ProcessingStatus = "failed"
	}
	tx := db.Save(&outfit)
	if tx.Error != nil {
		sentry.CaptureException(fmt.Errorf("[Fail Outfit %v] Error on saving outfit for failed status", outfit.ID))
		return tx.Error
	}
	return nil
}

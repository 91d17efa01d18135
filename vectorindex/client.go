package vectorindex

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Index stores garment embeddings in Postgres via pgvector and answers
// nearest-neighbour queries with cosine similarity.
type Index interface {
	Upsert(ctx context.Context, collection Collection, points []Point) error
	// Search returns points ordered by descending cosine similarity,
	// keeping only hits with score >= threshold, at most limit of them.
	Search(ctx context.Context, collection Collection, vector []float32, threshold float64, limit int, filter Filter) ([]ScoredPoint, error)
	GetByID(ctx context.Context, collection Collection, id string) (*Point, error)
	ScrollByPayload(ctx context.Context, collection Collection, filter Filter) ([]Point, error)
	DeleteByID(ctx context.Context, collection Collection, ids []string) error
	DeleteByPayload(ctx context.Context, collection Collection, filter Filter) error
}

type PgIndex struct {
	db  *gorm.DB
	dim int
}

func NewPgIndex(db *gorm.DB, dim int) *PgIndex {
	return &PgIndex{db: db, dim: dim}
}

// EnsureSchema provisions the extension and both point tables. Idempotent,
// called on startup before any index traffic.
func (ix *PgIndex) EnsureSchema(ctx context.Context) error {
	if err := ix.db.WithContext(ctx).Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	for _, collection := range []Collection{CollectionOutfitItems, CollectionWardrobeItems} {
		stmt := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id text PRIMARY KEY,
				embedding vector(%d) NOT NULL,
				outfit_id text NOT NULL DEFAULT '',
				wardrobe_image_id bigint NOT NULL DEFAULT 0,
				user_id bigint NOT NULL DEFAULT 0,
				clothing_type text NOT NULL DEFAULT ''
			)`, collection, ix.dim)
		if err := ix.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("create %v: %w", collection, err)
		}
		for _, column := range []string{"outfit_id", "user_id", "clothing_type"} {
			idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)", collection, column, collection, column)
			if err := ix.db.WithContext(ctx).Exec(idx).Error; err != nil {
				return fmt.Errorf("index %v.%v: %w", collection, column, err)
			}
		}
	}
	return nil
}

func (ix *PgIndex) Upsert(ctx context.Context, collection Collection, points []Point) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %v", collection)
	}
	if len(points) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, outfit_id, wardrobe_image_id, user_id, clothing_type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			embedding = EXCLUDED.embedding,
			outfit_id = EXCLUDED.outfit_id,
			wardrobe_image_id = EXCLUDED.wardrobe_image_id,
			user_id = EXCLUDED.user_id,
			clothing_type = EXCLUDED.clothing_type`, collection)
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range points {
			p := &points[i]
			if err := p.validate(ix.dim); err != nil {
				return err
			}
			err := tx.Exec(stmt, p.ID, pgvector.NewVector(p.Vector),
				p.OutfitID, p.WardrobeImageID, p.UserID, p.ClothingType).Error
			if err != nil {
				return fmt.Errorf("upsert point %v: %w", p.ID, err)
			}
		}
		return nil
	})
}

func filterClause(filter Filter, args *[]interface{}) []string {
	where := []string{}
	if filter.OutfitID != "" {
		where = append(where, "outfit_id = ?")
		*args = append(*args, filter.OutfitID)
	}
	if filter.WardrobeImageID != 0 {
		where = append(where, "wardrobe_image_id = ?")
		*args = append(*args, filter.WardrobeImageID)
	}
	if filter.UserID != 0 {
		where = append(where, "user_id = ?")
		*args = append(*args, filter.UserID)
	}
	if filter.ClothingType != "" {
		where = append(where, "clothing_type = ?")
		*args = append(*args, filter.ClothingType)
	}
	return where
}

func (ix *PgIndex) Search(ctx context.Context, collection Collection, vector []float32, threshold float64, limit int, filter Filter) ([]ScoredPoint, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %v", collection)
	}
	if len(vector) != ix.dim {
		return nil, fmt.Errorf("query vector has size %v, index expects %v", len(vector), ix.dim)
	}
	if limit <= 0 {
		limit = 10
	}
	query := pgvector.NewVector(vector)
	filterArgs := []interface{}{}
	// <=> is cosine distance, so similarity = 1 - distance.
	where := append([]string{"1 - (embedding <=> ?) >= ?"}, filterClause(filter, &filterArgs)...)
	args := append([]interface{}{query, query, threshold}, filterArgs...)
	stmt := fmt.Sprintf(`
		SELECT id, embedding, outfit_id, wardrobe_image_id, user_id, clothing_type,
			1 - (embedding <=> ?) AS score
		FROM %s
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY embedding <=> ?
		LIMIT ?`, collection)
	args = append(args, query, limit)

	rows, err := ix.db.WithContext(ctx).Raw(stmt, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("search %v: %w", collection, err)
	}
	defer rows.Close()

	hits := []ScoredPoint{}
	for rows.Next() {
		var hit ScoredPoint
		var embedding pgvector.Vector
		err := rows.Scan(&hit.ID, &embedding, &hit.OutfitID, &hit.WardrobeImageID,
			&hit.UserID, &hit.ClothingType, &hit.Score)
		if err != nil {
			return nil, fmt.Errorf("scan search hit: %w", err)
		}
		hit.Vector = embedding.Slice()
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (ix *PgIndex) GetByID(ctx context.Context, collection Collection, id string) (*Point, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %v", collection)
	}
	stmt := fmt.Sprintf(`
		SELECT id, embedding, outfit_id, wardrobe_image_id, user_id, clothing_type
		FROM %s WHERE id = ?`, collection)
	rows, err := ix.db.WithContext(ctx).Raw(stmt, id).Rows()
	if err != nil {
		return nil, fmt.Errorf("get point %v: %w", id, err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	var p Point
	var embedding pgvector.Vector
	err = rows.Scan(&p.ID, &embedding, &p.OutfitID, &p.WardrobeImageID, &p.UserID, &p.ClothingType)
	if err != nil {
		return nil, fmt.Errorf("scan point %v: %w", id, err)
	}
	p.Vector = embedding.Slice()
	return &p, nil
}

func (ix *PgIndex) ScrollByPayload(ctx context.Context, collection Collection, filter Filter) ([]Point, error) {
	if !collection.Valid() {
		return nil, fmt.Errorf("unknown collection %v", collection)
	}
	if filter.empty() {
		return nil, fmt.Errorf("refusing to scroll %v without a filter", collection)
	}
	args := []interface{}{}
	where := filterClause(filter, &args)
	// ordered by id so callers see a stable point order across calls
	stmt := fmt.Sprintf(`
		SELECT id, embedding, outfit_id, wardrobe_image_id, user_id, clothing_type
		FROM %s
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY id`, collection)

	rows, err := ix.db.WithContext(ctx).Raw(stmt, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("scroll %v: %w", collection, err)
	}
	defer rows.Close()

	points := []Point{}
	for rows.Next() {
		var p Point
		var embedding pgvector.Vector
		err := rows.Scan(&p.ID, &embedding, &p.OutfitID, &p.WardrobeImageID, &p.UserID, &p.ClothingType)
		if err != nil {
			return nil, fmt.Errorf("scan point: %w", err)
		}
		p.Vector = embedding.Slice()
		points = append(points, p)
	}
	return points, rows.Err()
}

func (ix *PgIndex) DeleteByID(ctx context.Context, collection Collection, ids []string) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %v", collection)
	}
	if len(ids) == 0 {
		return nil
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE id IN ?", collection)
	if err := ix.db.WithContext(ctx).Exec(stmt, ids).Error; err != nil {
		return fmt.Errorf("delete points: %w", err)
	}
	return nil
}

func (ix *PgIndex) DeleteByPayload(ctx context.Context, collection Collection, filter Filter) error {
	if !collection.Valid() {
		return fmt.Errorf("unknown collection %v", collection)
	}
	if filter.empty() {
		return fmt.Errorf("refusing to delete from %v without a filter", collection)
	}
	args := []interface{}{}
	where := filterClause(filter, &args)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE "+strings.Join(where, " AND "), collection)
	if err := ix.db.WithContext(ctx).Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("delete by payload: %w", err)
	}
	return nil
}

package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/PhotoDrop/internal/model"
)

const uniqueViolation = "23505"

const photoColumns = `id, owner_id, content_hash, storage_path, display_path, thumb_path, thumb_small_path,
	metadata, file_size, original_name, content_type, created_at, updated_at`

// PhotoRepository wraps all SQL used by the API and the worker.
type PhotoRepository struct {
	pool *pgxpool.Pool
}

// NewPhotoRepository constructs a repository.
func NewPhotoRepository(pool *pgxpool.Pool) *PhotoRepository {
	return &PhotoRepository{pool: pool}
}

// Create inserts a freshly ingested photo.
func (r *PhotoRepository) Create(ctx context.Context, rec *model.PhotoRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	_, err = r.pool.Exec(ctx, `
		INSERT INTO photos (`+photoColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, rec.ID, rec.OwnerID, rec.ContentHash, rec.StoragePath, rec.DisplayPath, rec.ThumbPath, rec.ThumbSmallPath,
		meta, rec.FileSize, rec.OriginalName, rec.ContentType, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return fmt.Errorf("insert photo: %w", err)
	}
	return nil
}

// GetByID returns a photo by id.
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*model.PhotoRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE id=$1`, id)
	return scanPhoto(row)
}

// GetByOwnerHash returns the owner's photo with the given content hash.
func (r *PhotoRepository) GetByOwnerHash(ctx context.Context, ownerID, hash string) (*model.PhotoRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+photoColumns+` FROM photos WHERE owner_id=$1 AND content_hash=$2`, ownerID, hash)
	return scanPhoto(row)
}

// Update writes only the non-nil fields of u.
func (r *PhotoRepository) Update(ctx context.Context, id string, u PhotoUpdate) error {
	var meta []byte
	if u.Metadata != nil {
		var err error
		if meta, err = json.Marshal(u.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE photos
		SET content_hash = COALESCE($1, content_hash),
			metadata = COALESCE($2::jsonb, metadata),
			thumb_path = COALESCE($3, thumb_path),
			thumb_small_path = COALESCE($4, thumb_small_path),
			display_path = COALESCE($5, display_path),
			updated_at = $6
		WHERE id=$7
	`, u.ContentHash, meta, u.ThumbPath, u.ThumbSmallPath, u.DisplayPath, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPhoto(row pgx.Row) (*model.PhotoRecord, error) {
	var (
		rec                        model.PhotoRecord
		display, thumb, thumbSmall sql.NullString
		meta                       []byte
	)
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.ContentHash, &rec.StoragePath, &display, &thumb, &thumbSmall,
		&meta, &rec.FileSize, &rec.OriginalName, &rec.ContentType, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select photo: %w", err)
	}
	rec.DisplayPath = nullable(display)
	rec.ThumbPath = nullable(thumb)
	rec.ThumbSmallPath = nullable(thumbSmall)
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &rec, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

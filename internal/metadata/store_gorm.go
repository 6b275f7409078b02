package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type metadataModel struct {
	ID                string    `gorm:"column:id;primaryKey;type:uuid"`
	ObjectID          string    `gorm:"column:object_id;uniqueIndex;not null"`
	BucketName        string    `gorm:"column:bucket_name;not null"`
	OwnerID           string    `gorm:"column:owner_id;not null"`
	ObjectKey         string    `gorm:"column:object_key;not null"`
	AccessLevel       string    `gorm:"column:access_level;not null"`
	Description       string    `gorm:"column:description"`
	ActiveVersion     int       `gorm:"column:active_version;not null"`
	VersioningEnabled bool      `gorm:"column:versioning_enabled;not null"`
	CreatedAt         time.Time `gorm:"column:created_at"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (metadataModel) TableName() string { return "object_metadata" }

type tagModel struct {
	ID         string `gorm:"column:id;primaryKey;type:uuid"`
	MetadataID string `gorm:"column:metadata_id;type:uuid;not null"`
	Tag        string `gorm:"column:tag;not null"`
}

func (tagModel) TableName() string { return "object_tags" }

type versionModel struct {
	ID            string    `gorm:"column:id;primaryKey;type:uuid"`
	ObjectID      string    `gorm:"column:object_id;not null"`
	VersionNumber int       `gorm:"column:version_number;not null"`
	IsActive      bool      `gorm:"column:is_active;not null"`
	OwnerID       string    `gorm:"column:owner_id;not null"`
	BucketName    string    `gorm:"column:bucket_name;not null"`
	Checksum      string    `gorm:"column:checksum"`
	Size          int64     `gorm:"column:size"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (versionModel) TableName() string { return "object_versions" }

type bucketModel struct {
	BucketName        string    `gorm:"column:bucket_name;primaryKey"`
	OwnerID           string    `gorm:"column:owner_id;primaryKey"`
	VersioningEnabled bool      `gorm:"column:versioning_enabled;not null"`
	UpdatedAt         time.Time `gorm:"column:updated_at"`
}

func (bucketModel) TableName() string { return "bucket_settings" }

func (m metadataModel) toEntity(tags []string) Metadata {
	if tags == nil {
		tags = []string{}
	}
	return Metadata{
		ID:                m.ID,
		ObjectID:          m.ObjectID,
		BucketName:        m.BucketName,
		OwnerID:           m.OwnerID,
		ObjectKey:         m.ObjectKey,
		AccessLevel:       AccessLevel(m.AccessLevel),
		Description:       m.Description,
		Tags:              tags,
		ActiveVersion:     m.ActiveVersion,
		VersioningEnabled: m.VersioningEnabled,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

func metadataModelFrom(md Metadata) metadataModel {
	return metadataModel{
		ID:                md.ID,
		ObjectID:          md.ObjectID,
		BucketName:        md.BucketName,
		OwnerID:           md.OwnerID,
		ObjectKey:         md.ObjectKey,
		AccessLevel:       string(md.AccessLevel),
		Description:       md.Description,
		ActiveVersion:     md.ActiveVersion,
		VersioningEnabled: md.VersioningEnabled,
		CreatedAt:         md.CreatedAt,
		UpdatedAt:         md.UpdatedAt,
	}
}

func (m versionModel) toEntity() Version {
	return Version{
		ID:            m.ID,
		ObjectID:      m.ObjectID,
		VersionNumber: m.VersionNumber,
		Active:        m.IsActive,
		OwnerID:       m.OwnerID,
		BucketName:    m.BucketName,
		Checksum:      m.Checksum,
		Size:          m.Size,
		CreatedAt:     m.CreatedAt.UTC(),
	}
}

func (m bucketModel) toEntity() BucketSettings {
	return BucketSettings{
		BucketName:        m.BucketName,
		OwnerID:           m.OwnerID,
		VersioningEnabled: m.VersioningEnabled,
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

// GormStore keeps the aggregate, its tags, versions and the bucket projection
// in Postgres.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

func (s *GormStore) GetMetadata(ctx context.Context, objectID string) (Metadata, error) {
	return getMetadata(s.db.WithContext(ctx), objectID, false)
}

func (s *GormStore) ListVersions(ctx context.Context, objectID string) ([]Version, error) {
	var rows []versionModel
	if err := s.db.WithContext(ctx).
		Where("object_id = ?", objectID).
		Order("version_number DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list versions %s: %w", objectID, err)
	}
	return toVersions(rows), nil
}

func (s *GormStore) ActiveVersion(ctx context.Context, objectID string) (Version, error) {
	var row versionModel
	err := s.db.WithContext(ctx).
		Where("object_id = ? AND is_active", objectID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Version{}, ErrNotFound
	}
	if err != nil {
		return Version{}, fmt.Errorf("active version %s: %w", objectID, err)
	}
	return row.toEntity(), nil
}

func (s *GormStore) SearchByTag(ctx context.Context, ownerID, tag string) ([]Metadata, error) {
	q := s.db.WithContext(ctx).
		Joins("JOIN object_tags t ON t.metadata_id = object_metadata.id").
		Where("t.tag = ?", tag)
	if ownerID != "" {
		q = q.Where("object_metadata.owner_id = ?", ownerID)
	}
	var rows []metadataModel
	if err := q.Order("object_metadata.object_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("search by tag %q: %w", tag, err)
	}
	return withTags(s.db.WithContext(ctx), rows)
}

func (s *GormStore) ListByOwner(ctx context.Context, ownerID string) ([]Metadata, error) {
	var rows []metadataModel
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("object_id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list by owner %s: %w", ownerID, err)
	}
	return withTags(s.db.WithContext(ctx), rows)
}

func (s *GormStore) GetBucketSettings(ctx context.Context, bucket, ownerID string) (BucketSettings, error) {
	return getBucketSettings(s.db.WithContext(ctx), bucket, ownerID)
}

type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) GetMetadata(ctx context.Context, objectID string) (Metadata, error) {
	return getMetadata(t.db.WithContext(ctx), objectID, true)
}

func (t *gormTx) InsertMetadata(ctx context.Context, md Metadata) error {
	row := metadataModelFrom(md)
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert metadata %s: %w", md.ObjectID, err)
	}
	return replaceTags(t.db.WithContext(ctx), md.ID, md.Tags)
}

func (t *gormTx) UpdateMetadata(ctx context.Context, md Metadata) error {
	res := t.db.WithContext(ctx).Model(&metadataModel{}).
		Where("object_id = ?", md.ObjectID).
		Updates(map[string]any{
			"object_key":         md.ObjectKey,
			"access_level":       string(md.AccessLevel),
			"description":        md.Description,
			"active_version":     md.ActiveVersion,
			"versioning_enabled": md.VersioningEnabled,
			"updated_at":         md.UpdatedAt,
		})
	if res.Error != nil {
		return fmt.Errorf("update metadata %s: %w", md.ObjectID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return replaceTags(t.db.WithContext(ctx), md.ID, md.Tags)
}

func (t *gormTx) DeleteMetadata(ctx context.Context, objectID string) error {
	db := t.db.WithContext(ctx)
	var row metadataModel
	err := db.Where("object_id = ?", objectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if err := db.Where("metadata_id = ?", row.ID).Delete(&tagModel{}).Error; err != nil {
		return fmt.Errorf("delete tags %s: %w", objectID, err)
	}
	if err := db.Where("id = ?", row.ID).Delete(&metadataModel{}).Error; err != nil {
		return fmt.Errorf("delete metadata %s: %w", objectID, err)
	}
	return nil
}

func (t *gormTx) ListObjectIDsByBucket(ctx context.Context, bucket, ownerID string) ([]string, error) {
	var ids []string
	if err := t.db.WithContext(ctx).Model(&metadataModel{}).
		Where("bucket_name = ? AND owner_id = ?", bucket, ownerID).
		Order("object_id").
		Pluck("object_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("list objects of %s: %w", bucket, err)
	}
	return ids, nil
}

func (t *gormTx) SetBucketVersioning(ctx context.Context, bucket, ownerID string, enabled bool) ([]Metadata, error) {
	var rows []metadataModel
	if err := t.db.WithContext(ctx).Model(&rows).
		Clauses(clause.Returning{}).
		Where("bucket_name = ? AND owner_id = ? AND versioning_enabled <> ?", bucket, ownerID, enabled).
		Updates(map[string]any{
			"versioning_enabled": enabled,
			"updated_at":         time.Now().UTC(),
		}).Error; err != nil {
		return nil, fmt.Errorf("cascade versioning to %s: %w", bucket, err)
	}
	out := make([]Metadata, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity(nil))
	}
	return out, nil
}

func (t *gormTx) GetBucketSettings(ctx context.Context, bucket, ownerID string) (BucketSettings, error) {
	var row bucketModel
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("bucket_name = ? AND owner_id = ?", bucket, ownerID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BucketSettings{}, ErrNotFound
	}
	if err != nil {
		return BucketSettings{}, fmt.Errorf("get bucket %s/%s: %w", ownerID, bucket, err)
	}
	return row.toEntity(), nil
}

func (t *gormTx) UpsertBucketSettings(ctx context.Context, bs BucketSettings) error {
	row := bucketModel{
		BucketName:        bs.BucketName,
		OwnerID:           bs.OwnerID,
		VersioningEnabled: bs.VersioningEnabled,
		UpdatedAt:         bs.UpdatedAt,
	}
	err := t.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "bucket_name"}, {Name: "owner_id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"versioning_enabled": row.VersioningEnabled,
			"updated_at":         row.UpdatedAt,
		}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert bucket %s: %w", bs.BucketName, err)
	}
	return nil
}

func (t *gormTx) DeleteBucketSettings(ctx context.Context, bucket, ownerID string) error {
	err := t.db.WithContext(ctx).
		Where("bucket_name = ? AND owner_id = ?", bucket, ownerID).
		Delete(&bucketModel{}).Error
	if err != nil {
		return fmt.Errorf("delete bucket %s/%s: %w", ownerID, bucket, err)
	}
	return nil
}

func (t *gormTx) LockVersions(ctx context.Context, objectID string) ([]Version, error) {
	var rows []versionModel
	if err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("object_id = ?", objectID).
		Order("version_number ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lock versions %s: %w", objectID, err)
	}
	return toVersions(rows), nil
}

func (t *gormTx) InsertVersion(ctx context.Context, v Version) error {
	row := versionModel{
		ID:            v.ID,
		ObjectID:      v.ObjectID,
		VersionNumber: v.VersionNumber,
		IsActive:      v.Active,
		OwnerID:       v.OwnerID,
		BucketName:    v.BucketName,
		Checksum:      v.Checksum,
		Size:          v.Size,
		CreatedAt:     v.CreatedAt,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("version %d of %s: %w", v.VersionNumber, v.ObjectID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert version %s: %w", v.ObjectID, err)
	}
	return nil
}

func (t *gormTx) SetVersionActive(ctx context.Context, versionID string, active bool) error {
	res := t.db.WithContext(ctx).Model(&versionModel{}).
		Where("id = ?", versionID).
		Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set version %s active=%t: %w", versionID, active, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTx) DeleteVersions(ctx context.Context, objectID string) (int64, error) {
	res := t.db.WithContext(ctx).Where("object_id = ?", objectID).Delete(&versionModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete versions %s: %w", objectID, res.Error)
	}
	return res.RowsAffected, nil
}

func getMetadata(db *gorm.DB, objectID string, lock bool) (Metadata, error) {
	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row metadataModel
	err := q.Where("object_id = ?", objectID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Metadata{}, ErrNotFound
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("get metadata %s: %w", objectID, err)
	}

	out, err := withTags(db, []metadataModel{row})
	if err != nil {
		return Metadata{}, err
	}
	return out[0], nil
}

func getBucketSettings(db *gorm.DB, bucket, ownerID string) (BucketSettings, error) {
	var row bucketModel
	err := db.Where("bucket_name = ? AND owner_id = ?", bucket, ownerID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BucketSettings{}, ErrNotFound
	}
	if err != nil {
		return BucketSettings{}, fmt.Errorf("get bucket %s/%s: %w", ownerID, bucket, err)
	}
	return row.toEntity(), nil
}

func withTags(db *gorm.DB, rows []metadataModel) ([]Metadata, error) {
	out := make([]Metadata, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}

	var tags []tagModel
	if err := db.Where("metadata_id IN ?", ids).Order("tag").Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("load tags: %w", err)
	}
	byMetadata := make(map[string][]string, len(rows))
	for _, t := range tags {
		byMetadata[t.MetadataID] = append(byMetadata[t.MetadataID], t.Tag)
	}

	for _, r := range rows {
		out = append(out, r.toEntity(byMetadata[r.ID]))
	}
	return out, nil
}

// replaceTags swaps the whole tag set: delete, then insert.
func replaceTags(db *gorm.DB, metadataID string, tags []string) error {
	if err := db.Where("metadata_id = ?", metadataID).Delete(&tagModel{}).Error; err != nil {
		return fmt.Errorf("clear tags %s: %w", metadataID, err)
	}
	if len(tags) == 0 {
		return nil
	}
	rows := make([]tagModel, 0, len(tags))
	for _, tag := range tags {
		rows = append(rows, tagModel{ID: uuid.NewString(), MetadataID: metadataID, Tag: tag})
	}
	if err := db.Create(&rows).Error; err != nil {
		return fmt.Errorf("insert tags %s: %w", metadataID, err)
	}
	return nil
}

func toVersions(rows []versionModel) []Version {
	out := make([]Version, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntity())
	}
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.Is(err, gorm.ErrDuplicatedKey) || (errors.As(err, &pgErr) && pgErr.Code == "23505")
}

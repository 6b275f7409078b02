package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sukirti1329/s3-system/internal/shared/events"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

func (s *Service) GetMetadata(ctx context.Context, objectID string) (Metadata, error) {
	return s.Store.GetMetadata(ctx, objectID)
}

// ListVersions returns the object's versions, newest first. An unknown object
// is ErrNotFound rather than an empty list.
func (s *Service) ListVersions(ctx context.Context, objectID string) ([]Version, error) {
	vs, err := s.Store.ListVersions(ctx, objectID)
	if err != nil {
		return nil, err
	}
	if len(vs) == 0 {
		if _, err := s.Store.GetMetadata(ctx, objectID); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

func (s *Service) ActiveVersion(ctx context.Context, objectID string) (Version, error) {
	return s.Store.ActiveVersion(ctx, objectID)
}

func (s *Service) SearchByTag(ctx context.Context, ownerID, tag string) ([]Metadata, error) {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return nil, fmt.Errorf("empty tag")
	}
	return s.Store.SearchByTag(ctx, ownerID, tag)
}

func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]Metadata, error) {
	return s.Store.ListByOwner(ctx, ownerID)
}

// Rollback makes version number the active version of objectID and keeps the
// aggregate's ActiveVersion in step.
func (s *Service) Rollback(ctx context.Context, objectID string, number int) (Version, error) {
	var (
		target Version
		md     Metadata
	)
	err := s.Store.InTx(ctx, func(tx Tx) error {
		var err error
		md, err = tx.GetMetadata(ctx, objectID)
		if err != nil {
			return err
		}
		target, err = s.Versions.Rollback(ctx, tx, objectID, number)
		if err != nil {
			return err
		}
		if md.ActiveVersion == target.VersionNumber {
			return nil
		}
		md.ActiveVersion = target.VersionNumber
		md.UpdatedAt = s.Now()
		return tx.UpdateMetadata(ctx, md)
	})
	if err != nil {
		return Version{}, err
	}

	logger.FromContext(ctx, s.Log).Info("object_version_rollback",
		slog.String("object_id", objectID),
		slog.Int("active_version", target.VersionNumber),
	)
	s.notify(ctx, md.OwnerID, events.MetadataUpdated(changeOf(md)))
	return target, nil
}

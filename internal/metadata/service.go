package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sukirti1329/s3-system/internal/dispatch"
	"github.com/sukirti1329/s3-system/internal/shared/config"
	"github.com/sukirti1329/s3-system/internal/shared/events"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

// Notifier publishes the service's own change notifications. publish.Publisher
// satisfies it.
type Notifier interface {
	Publish(ctx context.Context, topicKey, partitionKey string, env events.Envelope) error
}

type Service struct {
	Store    Store
	Versions VersionMachine
	// Notifier is optional.
	Notifier Notifier
	Log      *slog.Logger
	Now      func() time.Time
}

func NewService(store Store, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		Store:    store,
		Versions: NewVersionMachine(),
		Notifier: notifier,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
	}
}

// Routes is the set of events the metadata service consumes.
func (s *Service) Routes() dispatch.Routes {
	return dispatch.Routes{
		events.ObjectCreatedType: s.onObjectCreated,
		events.ObjectUpdatedType: s.onObjectUpdated,
		events.ObjectDeletedType: s.onObjectDeleted,
		events.BucketUpdatedType: s.onBucketUpdated,
		events.BucketDeletedType: s.onBucketDeleted,
	}
}

func payloadOf[T events.Payload](env events.Envelope) (T, error) {
	p, ok := env.Payload.(T)
	if !ok {
		var zero T
		return zero, dispatch.Permanent(fmt.Errorf("event %s: payload %T does not match type %s", env.ID, env.Payload, env.Type))
	}
	return p, nil
}

func missing(objectID string) error {
	return fmt.Errorf("object %s: %w", objectID, dispatch.ErrMissingAggregate)
}

func (s *Service) onObjectCreated(ctx context.Context, env events.Envelope) error {
	p, err := payloadOf[events.ObjectCreated](env)
	if err != nil {
		return err
	}
	access, err := ParseAccessLevel(p.AccessLevel)
	if err != nil {
		return dispatch.Permanent(err)
	}
	log := logger.FromContext(ctx, s.Log)

	var (
		created Metadata
		applied bool
	)
	err = s.Store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.GetMetadata(ctx, p.ObjectID); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		versioning := true
		if p.VersionEnabled != nil {
			versioning = *p.VersionEnabled
		} else if bs, err := tx.GetBucketSettings(ctx, p.BucketName, env.OwnerID); err == nil {
			versioning = bs.VersioningEnabled
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := s.Now()
		md := Metadata{
			ID:                uuid.NewString(),
			ObjectID:          p.ObjectID,
			BucketName:        p.BucketName,
			OwnerID:           env.OwnerID,
			ObjectKey:         p.ObjectKey,
			AccessLevel:       access,
			Description:       p.Description,
			Tags:              NormalizeTags(p.Tags),
			VersioningEnabled: versioning,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		v, err := s.Versions.CreateInitial(ctx, tx, VersionSource{
			ObjectID:   p.ObjectID,
			OwnerID:    env.OwnerID,
			BucketName: p.BucketName,
			Checksum:   p.Checksum,
			Size:       p.Size,
		})
		if err != nil {
			return err
		}
		md.ActiveVersion = v.VersionNumber
		if err := tx.InsertMetadata(ctx, md); err != nil {
			return err
		}
		created, applied = md, true
		return nil
	})
	if err != nil {
		return err
	}

	if !applied {
		log.Info("object_create_noop", slog.String("object_id", p.ObjectID))
		return nil
	}
	log.Info("object_metadata_created",
		slog.String("object_id", created.ObjectID),
		slog.Int("active_version", created.ActiveVersion),
	)
	s.notify(ctx, created.OwnerID, events.MetadataCreated(changeOf(created)))
	return nil
}

func (s *Service) onObjectUpdated(ctx context.Context, env events.Envelope) error {
	p, err := payloadOf[events.ObjectUpdated](env)
	if err != nil {
		return err
	}

	var updated Metadata
	err = s.Store.InTx(ctx, func(tx Tx) error {
		md, err := tx.GetMetadata(ctx, p.ObjectID)
		if errors.Is(err, ErrNotFound) {
			return missing(p.ObjectID)
		}
		if err != nil {
			return err
		}

		if p.ObjectKey != nil {
			md.ObjectKey = *p.ObjectKey
		}
		if p.Description != nil {
			md.Description = *p.Description
		}
		if p.Tags != nil {
			md.Tags = NormalizeTags(*p.Tags)
		}
		if p.AccessLevel != nil {
			access, err := ParseAccessLevel(*p.AccessLevel)
			if err != nil {
				return dispatch.Permanent(err)
			}
			md.AccessLevel = access
		}

		if md.VersioningEnabled {
			v, err := s.Versions.CreateNext(ctx, tx, VersionSource{
				ObjectID:   md.ObjectID,
				OwnerID:    md.OwnerID,
				BucketName: md.BucketName,
				Checksum:   p.Checksum,
				Size:       p.Size,
			})
			if err != nil {
				return err
			}
			md.ActiveVersion = v.VersionNumber
		}

		md.UpdatedAt = s.Now()
		if err := tx.UpdateMetadata(ctx, md); err != nil {
			return err
		}
		updated = md
		return nil
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.Log).Info("object_metadata_updated",
		slog.String("object_id", updated.ObjectID),
		slog.Int("active_version", updated.ActiveVersion),
		slog.Bool("versioning_enabled", updated.VersioningEnabled),
	)
	s.notify(ctx, updated.OwnerID, events.MetadataUpdated(changeOf(updated)))
	return nil
}

func (s *Service) onObjectDeleted(ctx context.Context, env events.Envelope) error {
	p, err := payloadOf[events.ObjectDeleted](env)
	if err != nil {
		return err
	}

	var deleted Metadata
	err = s.Store.InTx(ctx, func(tx Tx) error {
		md, err := s.deleteObject(ctx, tx, p.ObjectID)
		deleted = md
		return err
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.Log).Info("object_metadata_deleted", slog.String("object_id", p.ObjectID))
	s.notify(ctx, deleted.OwnerID, events.MetadataDeleted(changeOf(deleted)))
	return nil
}

// deleteObject removes versions first, then the aggregate.
func (s *Service) deleteObject(ctx context.Context, tx Tx, objectID string) (Metadata, error) {
	md, err := tx.GetMetadata(ctx, objectID)
	if errors.Is(err, ErrNotFound) {
		return Metadata{}, missing(objectID)
	}
	if err != nil {
		return Metadata{}, err
	}
	if _, err := s.Versions.DeleteAll(ctx, tx, objectID); err != nil {
		return Metadata{}, err
	}
	if err := tx.DeleteMetadata(ctx, objectID); err != nil {
		return Metadata{}, err
	}
	md.ActiveVersion = 0
	return md, nil
}

func (s *Service) onBucketUpdated(ctx context.Context, env events.Envelope) error {
	p, err := payloadOf[events.BucketUpdated](env)
	if err != nil {
		return err
	}
	log := logger.FromContext(ctx, s.Log).With(slog.String("bucket", p.BucketName))

	var (
		changed []Metadata
		noop    bool
	)
	err = s.Store.InTx(ctx, func(tx Tx) error {
		bs, err := tx.GetBucketSettings(ctx, p.BucketName, env.OwnerID)
		switch {
		case err == nil:
			if bs.VersioningEnabled == p.VersioningEnabled {
				noop = true
				return nil
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}

		changed, err = tx.SetBucketVersioning(ctx, p.BucketName, env.OwnerID, p.VersioningEnabled)
		if err != nil {
			return err
		}
		return tx.UpsertBucketSettings(ctx, BucketSettings{
			BucketName:        p.BucketName,
			OwnerID:           env.OwnerID,
			VersioningEnabled: p.VersioningEnabled,
			UpdatedAt:         s.Now(),
		})
	})
	if err != nil {
		return err
	}

	if noop {
		log.Info("bucket_cascade_noop", slog.Bool("versioning_enabled", p.VersioningEnabled))
		return nil
	}
	log.Info("bucket_cascade_applied",
		slog.Bool("versioning_enabled", p.VersioningEnabled),
		slog.Int("objects", len(changed)),
	)
	for _, md := range changed {
		s.notify(ctx, md.OwnerID, events.MetadataUpdated(changeOf(md)))
	}
	return nil
}

func (s *Service) onBucketDeleted(ctx context.Context, env events.Envelope) error {
	p, err := payloadOf[events.BucketDeleted](env)
	if err != nil {
		return err
	}

	var deleted []Metadata
	err = s.Store.InTx(ctx, func(tx Tx) error {
		ids, err := tx.ListObjectIDsByBucket(ctx, p.BucketName, env.OwnerID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			md, err := s.deleteObject(ctx, tx, id)
			if err != nil {
				return err
			}
			deleted = append(deleted, md)
		}
		return tx.DeleteBucketSettings(ctx, p.BucketName, env.OwnerID)
	})
	if err != nil {
		return err
	}

	logger.FromContext(ctx, s.Log).Info("bucket_objects_deleted",
		slog.String("bucket", p.BucketName),
		slog.Int("objects", len(deleted)),
	)
	for _, md := range deleted {
		s.notify(ctx, md.OwnerID, events.MetadataDeleted(changeOf(md)))
	}
	return nil
}

func changeOf(md Metadata) events.MetadataChange {
	return events.MetadataChange{
		ObjectID:          md.ObjectID,
		BucketName:        md.BucketName,
		ActiveVersion:     md.ActiveVersion,
		VersioningEnabled: md.VersioningEnabled,
	}
}

// notify is best effort: the change is committed already and a lost
// notification must not fail the event that caused it.
func (s *Service) notify(ctx context.Context, ownerID string, p events.Payload) {
	if s.Notifier == nil {
		return
	}
	env := events.New(events.MetadataService, ownerID, p)
	if err := s.Notifier.Publish(ctx, config.TopicMetadata, p.PartitionKey(), env); err != nil {
		logger.FromContext(ctx, s.Log).Warn("metadata_notify_failed",
			slog.String("object_id", p.PartitionKey()),
			slog.String("err", err.Error()),
		)
	}
}

package events

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	BucketUpdatedType   Type = "BUCKET_UPDATED"
	BucketDeletedType   Type = "BUCKET_DELETED"
	ObjectCreatedType   Type = "OBJECT_CREATED"
	ObjectUpdatedType   Type = "OBJECT_UPDATED"
	ObjectDeletedType   Type = "OBJECT_DELETED"
	MetadataCreatedType Type = "METADATA_CREATED"
	MetadataUpdatedType Type = "METADATA_UPDATED"
	MetadataDeletedType Type = "METADATA_DELETED"
)

type Source string

const (
	BucketService   Source = "BUCKET_SERVICE"
	ObjectService   Source = "OBJECT_SERVICE"
	MetadataService Source = "METADATA_SERVICE"
)

// Envelope is the immutable unit carried on the bus. Its ID is assigned once
// by New and travels unchanged through retries and redeliveries.
type Envelope struct {
	ID            string
	Type          Type
	SourceService Source
	OwnerID       string
	OccurredAt    time.Time
	Payload       Payload
}

// New builds an envelope for payload with a fresh event id. The type is taken
// from the payload so the two can never disagree.
func New(source Source, ownerID string, payload Payload) Envelope {
	return Envelope{
		ID:            uuid.NewString(),
		Type:          payload.EventType(),
		SourceService: source,
		OwnerID:       ownerID,
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

// PartitionKey is the natural id of the entity the envelope is about.
func (e Envelope) PartitionKey() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.PartitionKey()
}

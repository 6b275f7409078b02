package events

// Payload is the closed set of event bodies. The unexported marker keeps
// other packages from adding variants; Decode is the only way in from the wire.
type Payload interface {
	EventType() Type
	PartitionKey() string
	payload()
}

type BucketUpdated struct {
	BucketName        string `json:"bucketName"`
	VersioningEnabled bool   `json:"versioningEnabled"`
}

type BucketDeleted struct {
	BucketName string `json:"bucketName"`
}

type ObjectCreated struct {
	ObjectID    string   `json:"objectId"`
	BucketName  string   `json:"bucketName"`
	ObjectKey   string   `json:"objectKey"`
	Size        int64    `json:"size,omitempty"`
	Checksum    string   `json:"checksum,omitempty"`
	ContentType string   `json:"contentType,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	AccessLevel string   `json:"accessLevel,omitempty"`
	// VersionEnabled is optional; nil means "inherit from the bucket".
	VersionEnabled *bool `json:"versionEnabled,omitempty"`
}

// ObjectUpdated carries field-level changes. Nil fields are left untouched;
// a non-nil empty Tags slice clears the tag set.
type ObjectUpdated struct {
	ObjectID       string    `json:"objectId"`
	BucketName     string    `json:"bucketName"`
	ObjectKey      *string   `json:"objectKey,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Tags           *[]string `json:"tags,omitempty"`
	AccessLevel    *string   `json:"accessLevel,omitempty"`
	Size           int64     `json:"size,omitempty"`
	Checksum       string    `json:"checksum,omitempty"`
	VersionEnabled *bool     `json:"versionEnabled,omitempty"`
}

type ObjectDeleted struct {
	ObjectID   string `json:"objectId"`
	BucketName string `json:"bucketName"`
	ObjectKey  string `json:"objectKey,omitempty"`
}

// MetadataChange is the body of the notifications the metadata service emits
// after it has applied a change.
type MetadataChange struct {
	ObjectID          string `json:"objectId"`
	BucketName        string `json:"bucketName"`
	ActiveVersion     int    `json:"activeVersion"`
	VersioningEnabled bool   `json:"versioningEnabled"`
}

type (
	MetadataCreated MetadataChange
	MetadataUpdated MetadataChange
	MetadataDeleted MetadataChange
)

func (BucketUpdated) EventType() Type   { return BucketUpdatedType }
func (BucketDeleted) EventType() Type   { return BucketDeletedType }
func (ObjectCreated) EventType() Type   { return ObjectCreatedType }
func (ObjectUpdated) EventType() Type   { return ObjectUpdatedType }
func (ObjectDeleted) EventType() Type   { return ObjectDeletedType }
func (MetadataCreated) EventType() Type { return MetadataCreatedType }
func (MetadataUpdated) EventType() Type { return MetadataUpdatedType }
func (MetadataDeleted) EventType() Type { return MetadataDeletedType }

func (p BucketUpdated) PartitionKey() string   { return p.BucketName }
func (p BucketDeleted) PartitionKey() string   { return p.BucketName }
func (p ObjectCreated) PartitionKey() string   { return p.ObjectID }
func (p ObjectUpdated) PartitionKey() string   { return p.ObjectID }
func (p ObjectDeleted) PartitionKey() string   { return p.ObjectID }
func (p MetadataCreated) PartitionKey() string { return p.ObjectID }
func (p MetadataUpdated) PartitionKey() string { return p.ObjectID }
func (p MetadataDeleted) PartitionKey() string { return p.ObjectID }

func (BucketUpdated) payload()   {}
func (BucketDeleted) payload()   {}
func (ObjectCreated) payload()   {}
func (ObjectUpdated) payload()   {}
func (ObjectDeleted) payload()   {}
func (MetadataCreated) payload() {}
func (MetadataUpdated) payload() {}
func (MetadataDeleted) payload() {}

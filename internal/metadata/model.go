package metadata

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type AccessLevel string

const (
	Private         AccessLevel = "PRIVATE"
	PublicRead      AccessLevel = "PUBLIC_READ"
	PublicReadWrite AccessLevel = "PUBLIC_READ_WRITE"
)

// ParseAccessLevel accepts any case; empty means Private.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch AccessLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case "", Private:
		return Private, nil
	case PublicRead:
		return PublicRead, nil
	case PublicReadWrite:
		return PublicReadWrite, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAccessLevel, s)
}

// Metadata is the per-object aggregate owned by the metadata service.
type Metadata struct {
	ID                string      `json:"id"`
	ObjectID          string      `json:"object_id"`
	BucketName        string      `json:"bucket_name"`
	OwnerID           string      `json:"owner_id"`
	ObjectKey         string      `json:"object_key"`
	AccessLevel       AccessLevel `json:"access_level"`
	Description       string      `json:"description,omitempty"`
	Tags              []string    `json:"tags"`
	ActiveVersion     int         `json:"active_version"`
	VersioningEnabled bool        `json:"versioning_enabled"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

type Version struct {
	ID            string    `json:"id"`
	ObjectID      string    `json:"object_id"`
	VersionNumber int       `json:"version_number"`
	Active        bool      `json:"active"`
	OwnerID       string    `json:"owner_id"`
	BucketName    string    `json:"bucket_name"`
	Checksum      string    `json:"checksum,omitempty"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
}

// BucketSettings is the metadata service's projection of a bucket, fed by
// BucketUpdated events.
type BucketSettings struct {
	BucketName        string    `json:"bucket_name"`
	OwnerID           string    `json:"owner_id"`
	VersioningEnabled bool      `json:"versioning_enabled"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NormalizeTags trims, drops empties and duplicates, and sorts. Tags are a set.
func NormalizeTags(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, t := range in {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

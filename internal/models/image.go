package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ImageStatus string

const (
	ImageStatusPending    ImageStatus = "PENDING"
	ImageStatusProcessing ImageStatus = "PROCESSING"
	ImageStatusCompleted  ImageStatus = "COMPLETED"
	ImageStatusFailed     ImageStatus = "FAILED"
)

// IsTerminal reports whether the status can never change again.
func (s ImageStatus) IsTerminal() bool {
	return s == ImageStatusCompleted || s == ImageStatusFailed
}

type ImageKind string

const (
	ImageKindGenerate ImageKind = "generate"
	ImageKindEdit     ImageKind = "edit"
)

// Image is one version of a photograph. ParentImageID points at the version it
// was derived from (edits) or the failed row it replaces (retries).
type Image struct {
	ID               uuid.UUID
	ProjectID        uuid.UUID
	ParentImageID    uuid.NullUUID
	Kind             ImageKind
	Status           ImageStatus
	OriginalImageURL string
	ResultImageURL   sql.NullString
	Prompt           string
	ErrorMessage     sql.NullString
	Metadata         Metadata
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SourceURL is the URL an edit derived from this image should read.
func (i *Image) SourceURL() string {
	if i.ResultImageURL.Valid && i.ResultImageURL.String != "" {
		return i.ResultImageURL.String
	}
	return i.OriginalImageURL
}

// Metadata is provenance; status transitions never read it.
type Metadata map[string]interface{}

// Merge returns a copy of m with the entries of other applied on top.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (m Metadata) JSON() []byte {
	if m == nil {
		return []byte("{}")
	}
	data, err := json.Marshal(m)
	if err != nil {
		return []byte("{}")
	}
	return data
}

// Scan implements sql.Scanner for jsonb columns.
func (m *Metadata) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}

	out := Metadata{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	*m = out
	return nil
}

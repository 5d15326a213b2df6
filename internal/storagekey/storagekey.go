// Package storagekey builds the object-store keys for project images.
//
// Layout: {workspaceId}/{projectId}/{original|result}/{imageId}.{extension}.
// Existing blobs were written with this layout, so it must not change.
package storagekey

import (
	"fmt"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

type Kind string

const (
	KindOriginal Kind = "original"
	KindResult   Kind = "result"
)

const defaultExtension = "jpg"

// Key returns the object key for an image blob of the given content type.
func Key(workspaceID, projectID uuid.UUID, kind Kind, imageID uuid.UUID, contentType string) string {
	return fmt.Sprintf("%s%s.%s", KindPrefix(workspaceID, projectID, kind), imageID.String(), Extension(contentType))
}

// ProjectPrefix is the prefix shared by every blob of a project.
func ProjectPrefix(workspaceID, projectID uuid.UUID) string {
	return fmt.Sprintf("%s/%s/", workspaceID.String(), projectID.String())
}

// KindPrefix is the prefix of the original or result blobs of a project.
func KindPrefix(workspaceID, projectID uuid.UUID, kind Kind) string {
	return ProjectPrefix(workspaceID, projectID) + string(kind) + "/"
}

// Extension maps a content type to a file extension without the dot.
// Non-image or empty content types fall back to jpg.
func Extension(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.ToLower(contentType))
	}
	switch mediaType {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg"
	case "":
		return defaultExtension
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return defaultExtension
	}
	if m := mimetype.Lookup(mediaType); m != nil && m.Extension() != "" {
		return strings.TrimPrefix(m.Extension(), ".")
	}
	if sub, ok := strings.CutPrefix(mediaType, "image/"); ok && sub != "" && !strings.ContainsAny(sub, "+.") {
		return sub
	}
	return defaultExtension
}

// DetectContentType sniffs data when the declared content type is missing or generic.
func DetectContentType(declared string, data []byte) string {
	mediaType, _, err := mime.ParseMediaType(declared)
	if err == nil && strings.HasPrefix(mediaType, "image/") {
		return mediaType
	}
	return mimetype.Detect(data).String()
}

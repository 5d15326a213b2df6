package services

import "errors"

var (
	// ErrEmptyResult means the provider call succeeded but produced no images.
	ErrEmptyResult = errors.New("generation provider returned no images")
	// ErrMissingMask is returned for remove edits submitted without a mask.
	ErrMissingMask = errors.New("remove edit requires a mask")
	// ErrInvalidMask is returned when the mask is not a decodable image data URL.
	ErrInvalidMask = errors.New("mask is not a valid image data url")
	// ErrSourceNotFound is returned when an edit's source image does not exist.
	ErrSourceNotFound = errors.New("source image not found")
	// ErrInvalidPayload is returned for job bodies that cannot be decoded or validated.
	ErrInvalidPayload = errors.New("invalid job payload")
)

// IsPermanent reports whether err fails identically on every attempt, so
// retrying cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrMissingMask) ||
		errors.Is(err, ErrInvalidMask) ||
		errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrInvalidPayload)
}

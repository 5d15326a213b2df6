package models

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrImageTerminal    = errors.New("image already reached a terminal state")
	ErrProjectCompleted = errors.New("project already completed")
)

package services

import (
	"errors"

	"cratemind/internal/store"
)

// WrapStore translates a repository failure into the matching marker.
func WrapStore(component, operation string, err error) error {
	if err == nil {
		return nil
	}
	marker := ErrTransient
	switch {
	case errors.Is(err, store.ErrNotFound):
		marker = ErrNotFound
	case errors.Is(err, store.ErrVersionConflict):
		marker = ErrConflict
	case errors.Is(err, store.ErrUnavailable):
		marker = ErrUnavailable
	}
	return Wrap(marker, component, operation, "", err)
}

package ipam

import (
	"errors"

	"github.com/martinsuchenak/rackfab/internal/cidr"
	"github.com/martinsuchenak/rackfab/internal/ports"
	"github.com/martinsuchenak/rackfab/internal/storage"
)

var (
	// ErrContainment is returned when a prefix or address lies outside its parent.
	ErrContainment = errors.New("outside parent range")
	// ErrDuplicate is returned when the same range or address already exists in
	// the VRF scope.
	ErrDuplicate = errors.New("already allocated")
	// ErrExhausted is returned when no free block or address remains.
	ErrExhausted = errors.New("pool exhausted")

	ErrNotFound = storage.ErrNotFound
	ErrInUse    = storage.ErrInUse
)

// Kind names the error category for outer layers (exit codes, API status).
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, cidr.ErrParse):
		return "parse"
	case errors.Is(err, ErrContainment):
		return "containment"
	case errors.Is(err, ErrDuplicate), errors.Is(err, storage.ErrAlreadyExists):
		return "duplicate"
	case errors.Is(err, ErrExhausted):
		return "exhausted"
	case errors.Is(err, ports.ErrExhausted):
		return "ports_exhausted"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInUse):
		return "in_use"
	default:
		return "internal"
	}
}

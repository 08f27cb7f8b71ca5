// README: Identifier and paging value objects.
package types

import (
	"strings"

	"github.com/google/uuid"
)

// ID identifies trips and users. Trip ids are 32 lowercase hex chars; user ids
// come from the identity provider and are opaque.
type ID string

func NewID() ID {
	return ID(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func (id ID) String() string {
	return string(id)
}

// IDPtr returns nil for the empty id.
func IDPtr(id ID) *ID {
	if id == "" {
		return nil
	}
	return &id
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// Normalize clamps the page into the supported range.
func (p Page) Normalize() Page {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Number - 1) * p.Size
}

package templates

import (
	"context"

	"github.com/coursekit/notify/pkg/notification"
)

// ListOptions filters and paginates template listings.
type ListOptions struct {
	Category notification.Category // empty = all categories
	Locale   string                // empty = all locales
	Status   Status                // empty = any status
	Limit    int                   // 0 = no limit
	Offset   int
}

// Storage persists templates. Versions are append-only; Update exists to
// flip lifecycle flags (status, default) and metadata, never to rewrite a
// version's content.
type Storage interface {
	// Create stores a new template version.
	Create(ctx context.Context, tpl Template) error

	// GetByID returns a template by id or ErrTemplateNotFound.
	GetByID(ctx context.Context, id string) (*Template, error)

	// FindActive returns all active templates for a (category, locale)
	// pair, newest version first.
	FindActive(ctx context.Context, category notification.Category, locale string) ([]Template, error)

	// Update replaces a stored template keyed by id.
	Update(ctx context.Context, tpl Template) error

	// List returns templates matching the options, newest first.
	List(ctx context.Context, opts ListOptions) ([]Template, error)

	// Count returns the number of templates matching the options.
	Count(ctx context.Context, opts ListOptions) (int, error)
}

package mission

import (
	"context"
	"fmt"
	"strings"
	"time"

	"careloop.org/internal/access"
	"careloop.org/internal/ids"
)

// Catalog manages the read-mostly mission template library. Templates are
// global (not child-scoped); only therapists and admins may author them.
type Catalog struct {
	store Store
	now   func() time.Time
}

// NewCatalog constructs the template catalog.
func NewCatalog(store Store) (*Catalog, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidArgument)
	}
	return &Catalog{store: store, now: time.Now}, nil
}

// TemplateInput carries the editable fields of a template.
type TemplateInput struct {
	Title        string
	Description  string
	Category     Category
	Difficulty   Difficulty
	Instructions string
	Duration     time.Duration
	LLMGenerated bool
}

func (in TemplateInput) validate() error {
	if t := strings.TrimSpace(in.Title); t == "" || len(t) > maxTitleLen {
		return fmt.Errorf("%w: title is required and must be at most %d characters", ErrInvalidArgument, maxTitleLen)
	}
	if d := strings.TrimSpace(in.Description); d == "" || len(in.Description) > maxLongTextLen {
		return fmt.Errorf("%w: description is required and must be at most %d characters", ErrInvalidArgument, maxLongTextLen)
	}
	if i := strings.TrimSpace(in.Instructions); i == "" || len(in.Instructions) > maxLongTextLen {
		return fmt.Errorf("%w: instructions are required and must be at most %d characters", ErrInvalidArgument, maxLongTextLen)
	}
	if !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidArgument, in.Category)
	}
	if !in.Difficulty.Valid() {
		return fmt.Errorf("%w: unknown difficulty %q", ErrInvalidArgument, in.Difficulty)
	}
	if in.Duration <= 0 {
		return fmt.Errorf("%w: expected duration must be positive", ErrInvalidArgument)
	}
	return nil
}

// Create adds a new active template.
func (c *Catalog) Create(ctx context.Context, author access.Actor, in TemplateInput) (Template, error) {
	if err := requireAuthorRole(author); err != nil {
		return Template{}, err
	}
	if err := in.validate(); err != nil {
		return Template{}, err
	}
	now := c.now().UTC()
	t := Template{
		ID:           ids.New(),
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Category:     in.Category,
		Difficulty:   in.Difficulty,
		Instructions: in.Instructions,
		Duration:     in.Duration,
		LLMGenerated: in.LLMGenerated,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := c.store.InsertTemplate(ctx, &t); err != nil {
		return Template{}, err
	}
	return t, nil
}

// Update replaces a template's editable fields, re-validating everything even
// when the template is already referenced by missions.
func (c *Catalog) Update(ctx context.Context, author access.Actor, id string, in TemplateInput) (Template, error) {
	if err := requireAuthorRole(author); err != nil {
		return Template{}, err
	}
	if err := in.validate(); err != nil {
		return Template{}, err
	}
	t, err := c.store.FindTemplate(ctx, id)
	if err != nil || t.Deleted {
		return Template{}, ErrNotFound
	}
	t.Title = strings.TrimSpace(in.Title)
	t.Description = in.Description
	t.Category = in.Category
	t.Difficulty = in.Difficulty
	t.Instructions = in.Instructions
	t.Duration = in.Duration
	t.LLMGenerated = in.LLMGenerated
	t.UpdatedAt = c.now().UTC()
	if err := c.store.UpdateTemplate(ctx, t); err != nil {
		return Template{}, err
	}
	return t, nil
}

// SetActive toggles whether new missions may be assigned from the template.
func (c *Catalog) SetActive(ctx context.Context, author access.Actor, id string, active bool) (Template, error) {
	if err := requireAuthorRole(author); err != nil {
		return Template{}, err
	}
	t, err := c.store.FindTemplate(ctx, id)
	if err != nil || t.Deleted {
		return Template{}, ErrNotFound
	}
	t.Active = active
	t.UpdatedAt = c.now().UTC()
	if err := c.store.UpdateTemplate(ctx, t); err != nil {
		return Template{}, err
	}
	return t, nil
}

// Delete soft-deletes the template. Existing missions keep their reference.
func (c *Catalog) Delete(ctx context.Context, author access.Actor, id string) error {
	if err := requireAuthorRole(author); err != nil {
		return err
	}
	t, err := c.store.FindTemplate(ctx, id)
	if err != nil || t.Deleted {
		return ErrNotFound
	}
	t.Deleted = true
	t.Active = false
	t.UpdatedAt = c.now().UTC()
	return c.store.UpdateTemplate(ctx, t)
}

// Get returns one template.
func (c *Catalog) Get(ctx context.Context, id string) (Template, error) {
	t, err := c.store.FindTemplate(ctx, id)
	if err != nil || t.Deleted {
		return Template{}, ErrNotFound
	}
	return t, nil
}

// List returns templates, optionally only active ones.
func (c *Catalog) List(ctx context.Context, activeOnly bool) ([]Template, error) {
	all, err := c.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if t.Deleted {
			continue
		}
		if activeOnly && !t.Active {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func requireAuthorRole(author access.Actor) error {
	if author.Role != access.RoleTherapist && author.Role != access.RoleAdmin {
		return fmt.Errorf("%w: only therapists may manage templates", ErrPermissionDenied)
	}
	return nil
}

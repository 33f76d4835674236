package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/AaronKronberg/OpusPipeline/internal/prompt"
	"github.com/AaronKronberg/OpusPipeline/internal/task"
)

// CreateTemplate inserts t with a fresh id. Identifiers are unique.
func (s *Store) CreateTemplate(ctx context.Context, t *prompt.Template) error {
	if err := checkTemplate(t); err != nil {
		return err
	}
	existing, err := s.TemplateByIdentifier(ctx, t.Identifier)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: template identifier %q already exists", task.ErrInvalidInput, t.Identifier)
	}
	t.ID = uuid.NewString()
	return s.db.WithContext(ctx).Create(t).Error
}

func checkTemplate(t *prompt.Template) error {
	if !prompt.ValidIdentifier(t.Identifier) {
		return fmt.Errorf("%w: template identifier %q must be word characters only", task.ErrInvalidInput, t.Identifier)
	}
	if strings.TrimSpace(t.Content) == "" {
		return fmt.Errorf("%w: template content is required", task.ErrInvalidInput)
	}
	if t.Name == "" {
		t.Name = t.Identifier
	}
	return nil
}

// GetTemplate returns a template by id.
func (s *Store) GetTemplate(ctx context.Context, id string) (*prompt.Template, error) {
	var t prompt.Template
	if err := s.db.WithContext(ctx).Take(&t, "id = ?", id).Error; err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: template %s", task.ErrNotFound, id)
		}
		return nil, err
	}
	return &t, nil
}

// TemplateByIdentifier implements prompt.Source.
func (s *Store) TemplateByIdentifier(ctx context.Context, identifier string) (*prompt.Template, error) {
	var t prompt.Template
	if err := s.db.WithContext(ctx).Take(&t, "identifier = ?", identifier).Error; err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// ListTemplates returns templates ordered by identifier.
func (s *Store) ListTemplates(ctx context.Context, category string, activeOnly bool) ([]prompt.Template, error) {
	q := s.db.WithContext(ctx).Model(&prompt.Template{})
	if category != "" {
		q = q.Where("category = ?", category)
	}
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var out []prompt.Template
	return out, q.Order("identifier").Find(&out).Error
}

var templateColumns = map[string]bool{
	"name": true, "content": true, "description": true, "category": true, "is_active": true,
}

// UpdateTemplate applies patch. The identifier is fixed once created because
// other templates refer to it.
func (s *Store) UpdateTemplate(ctx context.Context, id string, patch map[string]any) (*prompt.Template, error) {
	for k, v := range patch {
		if !templateColumns[k] {
			return nil, fmt.Errorf("%w: template field %q cannot be updated", task.ErrInvalidInput, k)
		}
		if k == "content" {
			if c, _ := v.(string); strings.TrimSpace(c) == "" {
				return nil, fmt.Errorf("%w: template content is required", task.ErrInvalidInput)
			}
		}
	}
	if _, err := s.GetTemplate(ctx, id); err != nil {
		return nil, err
	}
	if len(patch) > 0 {
		if err := s.db.WithContext(ctx).Model(&prompt.Template{}).Where("id = ?", id).Updates(patch).Error; err != nil {
			return nil, err
		}
	}
	return s.GetTemplate(ctx, id)
}

// DeleteTemplate removes a template. Pipelines referencing it fall back to
// the built-in prompt.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&prompt.Template{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: template %s", task.ErrNotFound, id)
	}
	return nil
}

// UpsertTemplates creates or overwrites templates by identifier in one
// transaction, as loaded from a seed file.
func (s *Store) UpsertTemplates(ctx context.Context, templates []prompt.Template) (created, updated int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, updated = 0, 0
		for i := range templates {
			t := templates[i]
			if err := checkTemplate(&t); err != nil {
				return err
			}
			var existing prompt.Template
			err := tx.Take(&existing, "identifier = ?", t.Identifier).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				t.ID = uuid.NewString()
				if err := tx.Create(&t).Error; err != nil {
					return err
				}
				created++
			case err != nil:
				return err
			default:
				err := tx.Model(&existing).Updates(map[string]any{
					"name":        t.Name,
					"content":     t.Content,
					"description": t.Description,
					"category":    t.Category,
					"is_active":   t.IsActive,
				}).Error
				if err != nil {
					return err
				}
				updated++
			}
		}
		return nil
	})
	return created, updated, err
}

// Package prompt resolves prompt templates: variable placeholders, chained
// sub-templates, and the built-in fallback bodies used when a pipeline has no
// template configured.
package prompt

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateInactive = errors.New("template inactive")
	ErrChainTooDeep     = errors.New("template chain too deep")
)

// Template is a stored prompt body. Chain markers refer to other templates
// by Identifier, never by pointer.
type Template struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id" yaml:"-"`
	Identifier  string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"identifier" yaml:"identifier"`
	Name        string    `gorm:"type:varchar(255);not null" json:"name" yaml:"name"`
	Content     string    `gorm:"type:text;not null" json:"content" yaml:"content"`
	Description string    `gorm:"type:text" json:"description,omitempty" yaml:"description"`
	Category    string    `gorm:"type:varchar(64)" json:"category,omitempty" yaml:"category"`
	IsActive    bool      `gorm:"not null" json:"is_active" yaml:"is_active"`
	CreatedAt   time.Time `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"-"`
}

func (Template) TableName() string { return "prompt_templates" }

// Source looks templates up by identifier at resolution time.
type Source interface {
	// TemplateByIdentifier returns (nil, nil) when no template has the identifier.
	TemplateByIdentifier(ctx context.Context, identifier string) (*Template, error)
}

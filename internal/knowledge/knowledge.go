// Package knowledge stores reference documents grouped into knowledge bases
// and serves them as prompt context ranked by overlap with a query.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var ErrBaseNotFound = errors.New("knowledge base not found")

// Base groups documents.
type Base struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Base) TableName() string { return "knowledge_bases" }

// Document is one retrievable text.
type Document struct {
	ID              string            `gorm:"primaryKey;type:varchar(36)" json:"id"`
	KnowledgeBaseID string            `gorm:"type:varchar(36);not null;index" json:"knowledge_base_id"`
	Title           string            `gorm:"type:varchar(255);not null" json:"title"`
	Content         string            `gorm:"type:text;not null" json:"content"`
	Source          string            `gorm:"type:text" json:"source,omitempty"`
	Metadata        datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (Document) TableName() string { return "knowledge_documents" }

// Provider returns context text relevant to query, at most maxLen runes.
type Provider interface {
	Context(ctx context.Context, kbID, query string, maxLen int) (string, error)
}

// topK bounds how many ranked documents feed one context.
const topK = 10

// Store is the gorm-backed Provider.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateBase inserts a knowledge base.
func (s *Store) CreateBase(ctx context.Context, name, description string) (*Base, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("knowledge base name is required")
	}
	b := &Base{ID: uuid.NewString(), Name: name, Description: description}
	if err := s.db.WithContext(ctx).Create(b).Error; err != nil {
		return nil, fmt.Errorf("create knowledge base %q: %w", name, err)
	}
	return b, nil
}

// GetBase looks a base up by id or by name.
func (s *Store) GetBase(ctx context.Context, idOrName string) (*Base, error) {
	var b Base
	err := s.db.WithContext(ctx).Where("id = ? OR name = ?", idOrName, idOrName).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBaseNotFound, idOrName)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// AddDocument stores doc under its knowledge base.
func (s *Store) AddDocument(ctx context.Context, doc *Document) error {
	if strings.TrimSpace(doc.Content) == "" {
		return errors.New("document content is required")
	}
	b, err := s.GetBase(ctx, doc.KnowledgeBaseID)
	if err != nil {
		return err
	}
	doc.KnowledgeBaseID = b.ID
	if doc.Title == "" {
		doc.Title = firstLine(doc.Content, 80)
	}
	doc.ID = uuid.NewString()
	return s.db.WithContext(ctx).Create(doc).Error
}

// Scored is a document with its relevance to a query.
type Scored struct {
	Document
	Score int `json:"score"`
}

// Search ranks the documents of kbID by how often the query's terms occur in
// them. Title hits count double. Documents matching no term are omitted.
func (s *Store) Search(ctx context.Context, kbID, query string, limit int) ([]Scored, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return nil, nil
	}
	var docs []Document
	if err := s.db.WithContext(ctx).Where("knowledge_base_id = ?", kbID).Find(&docs).Error; err != nil {
		return nil, err
	}
	scored := make([]Scored, 0, len(docs))
	for _, d := range docs {
		title := strings.ToLower(d.Title)
		body := strings.ToLower(d.Content)
		score := 0
		for _, t := range terms {
			score += 2*strings.Count(title, t) + strings.Count(body, t)
		}
		if score > 0 {
			scored = append(scored, Scored{Document: d, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Context joins the best-ranked documents with blank lines, stopping before
// the first one that would push the total past maxLen runes.
func (s *Store) Context(ctx context.Context, kbID, query string, maxLen int) (string, error) {
	hits, err := s.Search(ctx, kbID, query, topK)
	if err != nil {
		return "", err
	}
	var parts []string
	used := 0
	for _, h := range hits {
		n := len([]rune(h.Content))
		if used+n > maxLen {
			break
		}
		parts = append(parts, h.Content)
		used += n
	}
	return strings.Join(parts, "\n\n"), nil
}

// Terms splits query into unique lowercase words of three or more letters.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

func firstLine(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > max {
		r = r[:max]
	}
	return string(r)
}

package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "kb.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&Base{}, &Document{}))
	return NewStore(db)
}

func TestTerms(t *testing.T) {
	assert.Equal(t, []string{"code", "changes", "auth", "token"}, Terms("Code changes: +auth token, auth AT"))
	assert.Empty(t, Terms("a an to"))
}

func TestAddDocumentByBaseName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b, err := s.CreateBase(ctx, "backend", "")
	require.NoError(t, err)

	doc := &Document{KnowledgeBaseID: "backend", Content: "Sessions expire after 30 minutes.\nmore"}
	require.NoError(t, s.AddDocument(ctx, doc))
	assert.Equal(t, b.ID, doc.KnowledgeBaseID)
	assert.Equal(t, "Sessions expire after 30 minutes.", doc.Title)

	err = s.AddDocument(ctx, &Document{KnowledgeBaseID: "nope", Content: "x"})
	require.ErrorIs(t, err, ErrBaseNotFound)
}

func TestSearchRanksByOverlap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b, err := s.CreateBase(ctx, "kb", "")
	require.NoError(t, err)

	require.NoError(t, s.AddDocument(ctx, &Document{KnowledgeBaseID: b.ID, Title: "Logging", Content: "Use structured logging."}))
	require.NoError(t, s.AddDocument(ctx, &Document{KnowledgeBaseID: b.ID, Title: "Auth tokens", Content: "Auth tokens are rotated; validate auth headers."}))
	require.NoError(t, s.AddDocument(ctx, &Document{KnowledgeBaseID: b.ID, Title: "Unrelated", Content: "Nothing here."}))

	hits, err := s.Search(ctx, b.ID, "auth token handling", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Auth tokens", hits[0].Title)
}

func TestContextRespectsMaxLen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b, err := s.CreateBase(ctx, "kb", "")
	require.NoError(t, err)

	require.NoError(t, s.AddDocument(ctx, &Document{KnowledgeBaseID: b.ID, Title: "a", Content: "retry retry retry policy"}))
	require.NoError(t, s.AddDocument(ctx, &Document{KnowledgeBaseID: b.ID, Title: "b", Content: "retry once"}))

	got, err := s.Context(ctx, b.ID, "retry", 2000)
	require.NoError(t, err)
	assert.Equal(t, "retry retry retry policy\n\nretry once", got)

	got, err = s.Context(ctx, b.ID, "retry", 30)
	require.NoError(t, err)
	assert.Equal(t, "retry retry retry policy", got)

	got, err = s.Context(ctx, b.ID, "", 2000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

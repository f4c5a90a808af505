package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docingest/internal/model"
	"docingest/internal/repository"
)

var docColumns = []string{"id", "title", "file_path", "content_type", "file_size", "embedding", "user_id", "created_at"}

func TestDocumentPostgres_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("with embedding", func(t *testing.T) {
		doc := &model.Document{
			Title:       "report.pdf",
			FilePath:    "user-1/0b0e.pdf",
			ContentType: "application/pdf",
			FileSize:    2048,
			Embedding:   []float32{1, 0.5},
			UserID:      "user-1",
		}

		mock.ExpectQuery("INSERT INTO documents").
			WithArgs(doc.Title, doc.FilePath, doc.ContentType, doc.FileSize, "[1,0.5]", doc.UserID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("doc-1", now))

		result, err := repo.Create(ctx, doc)

		require.NoError(t, err)
		assert.Equal(t, "doc-1", result.ID)
		assert.Equal(t, now, result.CreatedAt)
		assert.Equal(t, doc.FilePath, result.FilePath)
		assert.True(t, result.HasEmbedding())
		assert.Empty(t, doc.ID, "input is not mutated")
	})

	t.Run("without embedding binds NULL", func(t *testing.T) {
		doc := &model.Document{
			Title:       "notes.txt",
			FilePath:    "user-1/aa.txt",
			ContentType: "text/plain",
			FileSize:    5,
			UserID:      "user-1",
		}

		mock.ExpectQuery("INSERT INTO documents").
			WithArgs(doc.Title, doc.FilePath, doc.ContentType, doc.FileSize, nil, doc.UserID).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("doc-2", now))

		result, err := repo.Create(ctx, doc)

		require.NoError(t, err)
		assert.False(t, result.HasEmbedding())
	})

	t.Run("unique violation", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO documents").
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "documents_file_path_key"})

		result, err := repo.Create(ctx, &model.Document{Title: "a", FilePath: "p", UserID: "u"})

		assert.ErrorIs(t, err, repository.ErrDuplicatePath)
		assert.Nil(t, result)
	})

	t.Run("other error passes through", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO documents").WillReturnError(errors.New("connection reset"))

		_, err := repo.Create(ctx, &model.Document{Title: "a", FilePath: "p", UserID: "u"})

		assert.EqualError(t, err, "connection reset")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_FindByID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows(docColumns).
			AddRow("test-id", "file.txt", "user-1/x.txt", "text/plain", 100, "[0.25,0.75]", "user-1", time.Now())

		mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = \\$1 AND user_id = \\$2").
			WithArgs("test-id", "user-1").
			WillReturnRows(rows)

		doc, err := repo.FindByID(ctx, "user-1", "test-id")

		require.NoError(t, err)
		assert.Equal(t, "test-id", doc.ID)
		assert.Equal(t, []float32{0.25, 0.75}, doc.Embedding)
	})

	t.Run("null embedding", func(t *testing.T) {
		rows := sqlmock.NewRows(docColumns).
			AddRow("test-id", "file.txt", "user-1/x.txt", "text/plain", 100, nil, "user-1", time.Now())

		mock.ExpectQuery("SELECT (.+) FROM documents").
			WithArgs("test-id", "user-1").
			WillReturnRows(rows)

		doc, err := repo.FindByID(ctx, "user-1", "test-id")

		require.NoError(t, err)
		assert.Nil(t, doc.Embedding)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM documents").
			WithArgs("missing", "user-1").
			WillReturnRows(sqlmock.NewRows(docColumns))

		doc, err := repo.FindByID(ctx, "user-1", "missing")

		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.Nil(t, doc)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_List(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
			WithArgs("user-1", "").
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

		rows := sqlmock.NewRows(docColumns).
			AddRow("test-id", "file.txt", "user-1/x.txt", "text/plain", 100, nil, "user-1", time.Now())

		mock.ExpectQuery("SELECT (.+) FROM documents (.+) ORDER BY").
			WithArgs("user-1", "", 10, 0).
			WillReturnRows(rows)

		res, err := repo.List(ctx, repository.ListQuery{UserID: "user-1", PageQuery: repository.PageQuery{Limit: 10}})

		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)
		assert.Len(t, res.Items, 1)
	})

	t.Run("title filter escapes wildcards", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM documents").
			WithArgs("user-1", `%50\%\_off%`).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
		mock.ExpectQuery("SELECT (.+) FROM documents (.+) ORDER BY").
			WithArgs("user-1", `%50\%\_off%`, 5, 10).
			WillReturnRows(sqlmock.NewRows(docColumns))

		res, err := repo.List(ctx, repository.ListQuery{
			UserID:    "user-1",
			Title:     "50%_off",
			PageQuery: repository.PageQuery{Limit: 5, Offset: 10},
		})

		require.NoError(t, err)
		assert.Equal(t, 0, res.Total)
		assert.Empty(t, res.Items)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_SearchSimilar(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	rows := sqlmock.NewRows(append(docColumns, "score")).
		AddRow("b", "b.txt", "user-1/b.txt", "text/plain", 3, "[1,0]", "user-1", time.Now(), 0.92).
		AddRow("c", "c.txt", "user-1/c.txt", "text/plain", 4, "[0,1]", "user-1", time.Now(), 0.15)

	mock.ExpectQuery(regexp.QuoteMeta("1 - (embedding <=> $2) AS score")).
		WithArgs("user-1", "[1,0]", "a", 5).
		WillReturnRows(rows)

	got, err := repo.SearchSimilar(ctx, "user-1", []float32{1, 0}, "a", 5)

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.InDelta(t, 0.92, got[0].Score, 1e-9)
	assert.Equal(t, "c", got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentPostgres_FilePathExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer db.Close()

	repo := NewDocumentPostgres(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-1/a.txt").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("user-1/b.txt").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.FilePathExists(ctx, "user-1/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.FilePathExists(ctx, "user-1/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `a\%b\_c\\d`, escapeLike(`a%b_c\d`))
	assert.Equal(t, "plain", escapeLike("plain"))
}

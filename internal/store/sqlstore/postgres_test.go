package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/docmapper/internal/model"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock, *model.Catalog) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c, err := model.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	return New(db, Postgres), mock, c
}

func expectLock(mock sqlmock.Sqlmock, tag *model.EntityType, label string) {
	mock.ExpectExec(`SELECT pg_advisory_xact_lock($1)`).
		WithArgs(LockKey(tag, []string{"label"}, []any{label})).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPostgres_FindOrCreateInserts(t *testing.T) {
	s, mock, c := newMock(t)
	tag := mustType(t, c, "Tag")

	mock.ExpectBegin()
	expectLock(mock, tag, "go")
	mock.ExpectQuery(`SELECT "id", "label" FROM "tags" WHERE "label" = $1 ORDER BY "id"`).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}))
	mock.ExpectQuery(`INSERT INTO "tags" ("label") VALUES ($1) RETURNING "id"`).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectCommit()

	e, created, err := s.FindOrCreate(context.Background(), tag, model.Values{"label": "go"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(7), e.ID)
	assert.Equal(t, "go", e.Get("label"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_FindOrCreateFinds(t *testing.T) {
	s, mock, c := newMock(t)
	tag := mustType(t, c, "Tag")

	mock.ExpectBegin()
	expectLock(mock, tag, "go")
	mock.ExpectQuery(`SELECT "id", "label" FROM "tags" WHERE "label" = $1 ORDER BY "id"`).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(int64(3), "go"))
	mock.ExpectCommit()

	e, created, err := s.FindOrCreate(context.Background(), tag, model.Values{"label": "go"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(3), e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UniqueViolationRetriesLookup(t *testing.T) {
	s, mock, c := newMock(t)
	tag := mustType(t, c, "Tag")

	mock.ExpectBegin()
	expectLock(mock, tag, "go")
	mock.ExpectQuery(`SELECT "id", "label" FROM "tags" WHERE "label" = $1 ORDER BY "id"`).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}))
	mock.ExpectQuery(`INSERT INTO "tags" ("label") VALUES ($1) RETURNING "id"`).
		WithArgs("go").
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()
	mock.ExpectQuery(`SELECT "id", "label" FROM "tags" WHERE "label" = $1 ORDER BY "id"`).
		WithArgs("go").
		WillReturnRows(sqlmock.NewRows([]string{"id", "label"}).AddRow(int64(9), "go"))

	e, created, err := s.FindOrCreate(context.Background(), tag, model.Values{"label": "go"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, int64(9), e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_NullUsesIsNull(t *testing.T) {
	s, mock, c := newMock(t)
	post := mustType(t, c, "Post")

	mock.ExpectQuery(`SELECT "id", "title", "score", "rating", "draft", "published", "author_id" FROM "posts" WHERE "title" = $1 AND "score" IS NULL ORDER BY "id"`).
		WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "score", "rating", "draft", "published", "author_id"}).
			AddRow(int64(1), "x", nil, nil, nil, nil, int64(5)))

	got, err := s.Filter(context.Background(), post, model.Values{"score": nil, "title": "x"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Get("score"))

	author, ok := got[0].Get("author").(*model.Entity)
	require.True(t, ok)
	assert.Equal(t, "Tag", author.Type.Name)
	assert.Equal(t, int64(5), author.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AddToRelation(t *testing.T) {
	s, mock, c := newMock(t)
	post := mustType(t, c, "Post")
	tag := mustType(t, c, "Tag")

	mock.ExpectExec(`INSERT INTO "posts_tags" ("owner_id", "related_id") VALUES ($1, $2) ON CONFLICT DO NOTHING`).
		WithArgs(int64(1), int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	owner := &model.Entity{Type: post, ID: 1}
	related := &model.Entity{Type: tag, ID: 2}
	require.NoError(t, s.AddToRelation(context.Background(), owner, "tags", related))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Update(t *testing.T) {
	s, mock, c := newMock(t)
	tag := mustType(t, c, "Tag")

	mock.ExpectExec(`UPDATE "tags" SET "label" = $1 WHERE "id" = $2`).
		WithArgs("renamed", int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	e := &model.Entity{Type: tag, ID: 4, Values: model.Values{"label": "renamed"}}
	require.NoError(t, s.Save(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(assert.AnError))
}

func TestPostgres_FindOrCreateLocksBeforeLookup(t *testing.T) {
	s, mock, c := newMock(t)
	tag := mustType(t, c, "Tag")

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock($1)`).
		WithArgs(LockKey(tag, []string{"label"}, []any{"go"})).
		WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	_, _, err := s.FindOrCreate(context.Background(), tag, model.Values{"label": "go"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NoError(t, mock.ExpectationsWereMet(), "no lookup runs without the lock")
}

func TestLockKey(t *testing.T) {
	c, err := model.ParseCatalog([]byte(catalogYAML))
	require.NoError(t, err)
	tag := mustType(t, c, "Tag")
	post := mustType(t, c, "Post")

	key := LockKey(tag, []string{"label"}, []any{"go"})
	assert.Equal(t, key, LockKey(tag, []string{"label"}, []any{"go"}))
	assert.NotEqual(t, key, LockKey(tag, []string{"label"}, []any{"rust"}))
	assert.NotEqual(t, key, LockKey(post, []string{"title"}, []any{"go"}))
	assert.NotEqual(t, LockKey(post, []string{"score"}, []any{nil}), LockKey(post, []string{"score"}, []any{int64(0)}))

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t,
		LockKey(post, []string{"published"}, []any{at}),
		LockKey(post, []string{"published"}, []any{at.In(time.FixedZone("MSK", 3*3600))}))

	assert.Empty(t, SQLite.LockSQL())
	assert.Equal(t, "SELECT pg_advisory_xact_lock($1)", Postgres.LockSQL())
}

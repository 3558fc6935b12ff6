package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/insightpilot/pkg/adapters/datasource"
	"github.com/ekaya-inc/insightpilot/pkg/models"
	sqlgate "github.com/ekaya-inc/insightpilot/pkg/sql"
)

func seedSQLite(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE artists (id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE TABLE albums (id INTEGER PRIMARY KEY, artist_id INTEGER REFERENCES artists(id), title TEXT, rating REAL DEFAULT 0)`,
		`INSERT INTO artists (id, name) VALUES (1, 'Nina'), (2, 'Miles')`,
		`INSERT INTO albums (artist_id, title, rating) VALUES (1, 'Pastel Blues', 4.5), (2, 'Kind of Blue', 5), (2, 'Bitches Brew', 4)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())
	return path
}

func newTestAdapter(t *testing.T, opts datasource.Options) *datasource.SQLAdapter {
	t.Helper()
	dsn, err := buildDSN(models.ConnectionDescriptor{
		Name: "lite", Kind: models.KindDB,
		DB: &models.DBConnection{Subtype: models.DBSQLite, Database: seedSQLite(t)},
	})
	require.NoError(t, err)

	a := NewAdapter(dsn, opts, zaptest.NewLogger(t))
	require.NoError(t, a.Connect(context.Background()))
	t.Cleanup(func() { _ = a.Disconnect() })
	return a
}

func TestAdapter_GetSchema(t *testing.T) {
	a := newTestAdapter(t, datasource.DefaultOptions())

	tables, err := a.GetSchema(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)

	albums := tables[0]
	assert.Equal(t, "albums", albums.Name)
	assert.Equal(t, []string{"id"}, albums.PrimaryKeys)
	require.Len(t, albums.ForeignKeys, 1)
	assert.Equal(t, models.ForeignKey{Column: "artist_id", ReferencedTable: "artists", ReferencedColumn: "id"}, albums.ForeignKeys[0])

	var rating models.ColumnInfo
	for _, c := range albums.Columns {
		if c.Name == "rating" {
			rating = c
		}
	}
	assert.Equal(t, "REAL", rating.Type)
	assert.True(t, rating.Nullable)
	require.NotNil(t, rating.Default)
	assert.Equal(t, "0", *rating.Default)

	artists := tables[1]
	assert.False(t, artists.Columns[1].Nullable)
}

func TestAdapter_Execute(t *testing.T) {
	a := newTestAdapter(t, datasource.Options{ExecTimeout: datasource.DefaultOptions().ExecTimeout, MaxRows: 2})

	res := a.Execute(context.Background(), "SELECT title FROM albums ORDER BY rating DESC;")
	require.Empty(t, res.Error)
	assert.Equal(t, []string{"title"}, res.Columns)
	assert.Equal(t, 2, res.RowCount)
	assert.Equal(t, "Kind of Blue", res.Rows[0][0])
}

func TestAdapter_QueryOnlyConnection(t *testing.T) {
	a := newTestAdapter(t, datasource.DefaultOptions())

	res := a.Execute(context.Background(), "DELETE FROM albums")
	assert.True(t, res.Failed())

	count := a.Execute(context.Background(), "SELECT COUNT(*) AS n FROM albums")
	require.Empty(t, count.Error)
	assert.EqualValues(t, 3, count.Rows[0][0])
}

func TestAdapter_ErrorsAreClassified(t *testing.T) {
	a := newTestAdapter(t, datasource.DefaultOptions())

	res := a.Execute(context.Background(), "SELECT artist_id FROM albums WHERE COUNT(*) > 1 GROUP BY artist_id")
	require.True(t, res.Failed())
	assert.True(t, a.ErrorRules().Classify(res.Error, res.ErrorCode).Retryable)

	res = a.Execute(context.Background(), "SELECT nme FROM artists")
	require.True(t, res.Failed())
	c := a.ErrorRules().Classify(res.Error, res.ErrorCode)
	assert.False(t, c.Retryable)
	assert.Contains(t, c.Hint, "column does not exist")
}

func TestAdapter_GetSample(t *testing.T) {
	a := newTestAdapter(t, datasource.DefaultOptions())

	res := a.GetSample(context.Background(), "artists", 1)
	require.Empty(t, res.Error)
	assert.Equal(t, 1, res.RowCount)
	assert.Equal(t, []string{"id", "name"}, res.Columns)
}

func TestRules(t *testing.T) {
	rules := Rules()
	_, err := rules.Sanitize("PRAGMA table_info(albums)")
	assert.ErrorIs(t, err, sqlgate.ErrRejected)
	assert.ErrorIs(t, rules.Validate("SELECT load_extension('evil.so')"), sqlgate.ErrRejected)
	assert.NoError(t, rules.Validate("SELECT * FROM albums LIMIT 10"))
}

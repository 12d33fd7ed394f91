package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_DSN(t *testing.T) {
	dsn := Options{User: "lib", Pass: "secret", Host: "db", Port: "3306", Name: "library"}.DSN()

	assert.True(t, strings.HasPrefix(dsn, "lib:secret@tcp(db:3306)/library?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
}

func TestStatements_EmbeddedSchema(t *testing.T) {
	stmts := statements(schema)

	require.Len(t, stmts, 3)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS book_variants"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE IF NOT EXISTS book_copies"))
	assert.True(t, strings.HasPrefix(stmts[2], "CREATE TABLE IF NOT EXISTS reservations"))
	for _, s := range stmts {
		assert.NotContains(t, s, "--")
	}
}

func TestStatements_CommentsMayContainSemicolons(t *testing.T) {
	script := `-- first; second
CREATE TABLE a (id INT); -- trailing; note
-- only a comment;
CREATE TABLE b (id INT);
`
	assert.Equal(t, []string{"CREATE TABLE a (id INT)", "CREATE TABLE b (id INT)"}, statements(script))
}

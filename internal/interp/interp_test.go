package interp

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pagedb/internal/catalog"
)

func newTestInterpreter(t *testing.T) *Interpreter {
	t.Helper()
	dir := filepath.Join(os.TempDir(), "pagedb_interp_test", t.Name())
	require.NoError(t, os.MkdirAll(dir, 0755))
	t.Cleanup(func() { os.RemoveAll(dir) })

	cat, err := catalog.New(dir, 8)
	require.NoError(t, err)
	t.Cleanup(cat.Close)
	return New(cat, 8)
}

func TestCreateInsertSelectRoundTrip(t *testing.T) {
	it := newTestInterpreter(t)

	_, err := it.Run("CREATE TABLE users (id UINT64, name VARCHAR(16))")
	require.NoError(t, err)

	_, err = it.Run("INSERT INTO users VALUES (1, 'alice')")
	require.NoError(t, err)
	_, err = it.Run("INSERT INTO users VALUES (2, 'bob')")
	require.NoError(t, err)

	result, err := it.Run("SELECT id, name FROM users WHERE id >= 2")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "bob", result.Rows[0][1].Str)
}

func TestSelectStarExpandsColumns(t *testing.T) {
	it := newTestInterpreter(t)
	_, err := it.Run("CREATE TABLE t (a UINT64, b UINT64)")
	require.NoError(t, err)
	_, err = it.Run("INSERT INTO t VALUES (1, 2)")
	require.NoError(t, err)

	result, err := it.Run("SELECT * FROM t")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, result.Schema.Names())
	require.Len(t, result.Rows, 1)
}

func TestGroupByAggregateWithHaving(t *testing.T) {
	it := newTestInterpreter(t)
	_, err := it.Run("CREATE TABLE orders (category VARCHAR(8), amount INT64)")
	require.NoError(t, err)
	for _, row := range []string{
		"INSERT INTO orders VALUES ('a', 10)",
		"INSERT INTO orders VALUES ('a', 20)",
		"INSERT INTO orders VALUES ('b', 5)",
	} {
		_, err := it.Run(row)
		require.NoError(t, err)
	}

	result, err := it.Run("SELECT category, SUM(amount) AS total FROM orders GROUP BY category HAVING SUM(amount) > 15")
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	require.Equal(t, "a", result.Rows[0][0].Str)
}

func TestDropTableRemovesSchemaAndData(t *testing.T) {
	it := newTestInterpreter(t)
	_, err := it.Run("CREATE TABLE gone (id UINT64)")
	require.NoError(t, err)
	_, err = it.Run("DROP TABLE gone")
	require.NoError(t, err)

	_, err = it.Run("SELECT * FROM gone")
	require.Error(t, err)
}

func TestInsertWrongColumnCountFails(t *testing.T) {
	it := newTestInterpreter(t)
	_, err := it.Run("CREATE TABLE t (a UINT64)")
	require.NoError(t, err)
	_, err = it.Run("INSERT INTO t VALUES (1, 2)")
	require.Error(t, err)
}

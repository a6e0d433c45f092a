package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeInsertAndFlatten(t *testing.T) {
	tree := Tree{}
	require.NoError(t, tree.Insert("src/server/api.py", "serves HTTP"))
	require.NoError(t, tree.Insert("setup.py", "packaging"))
	require.NoError(t, tree.Insert("src/cli.py", "command line"))
	require.NoError(t, tree.Insert("src/server/db.py", "database access"))

	assert.Equal(t, []Entry{
		{Path: "setup.py", Summary: "packaging"},
		{Path: "src/cli.py", Summary: "command line"},
		{Path: "src/server/api.py", Summary: "serves HTTP"},
		{Path: "src/server/db.py", Summary: "database access"},
	}, tree.Flatten())
}

func TestTreeInsertConflicts(t *testing.T) {
	tree := Tree{}
	require.NoError(t, tree.Insert("a/b.py", "x"))
	assert.Error(t, tree.Insert("a/b.py/c.py", "y"))
	assert.Error(t, tree.Insert("a", "z"))
	assert.Error(t, tree.Insert("", "z"))
}

func TestTreeJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", SummaryFile)

	tree := Tree{}
	require.NoError(t, tree.Insert("pkg/a.go", "parses <flags> & args"))
	require.NoError(t, tree.SaveJSON(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\n    \"pkg\": {\n        \"a.go\": \"parses <flags> & args\"\n    }\n}\n", string(data))

	loaded, err := LoadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, tree.Flatten(), loaded.Flatten())

	// A loaded tree accepts further inserts into existing directories.
	require.NoError(t, loaded.Insert("pkg/b.go", "more"))
	assert.Len(t, loaded.Flatten(), 2)
}

func TestLoadJSONRejectsBadShapes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a": {"b": 3}}`), 0o644))
	_, err := LoadJSON(path)
	assert.Error(t, err)
}

func TestSaveTextAndHTML(t *testing.T) {
	dir := t.TempDir()
	md := "# Design\n\nThe **core** loop.\n\n| a | b |\n|---|---|\n| 1 | 2 |\n"

	require.NoError(t, SaveText(filepath.Join(dir, DesignFile), md))
	got, err := os.ReadFile(filepath.Join(dir, DesignFile))
	require.NoError(t, err)
	assert.Equal(t, md, string(got))

	require.NoError(t, SaveHTML(filepath.Join(dir, HTMLFile), "acme <widgets>", md))
	page, err := os.ReadFile(filepath.Join(dir, HTMLFile))
	require.NoError(t, err)
	s := string(page)
	assert.Contains(t, s, "<title>acme &lt;widgets&gt;</title>")
	assert.Contains(t, s, "<h1>Design</h1>")
	assert.Contains(t, s, "<strong>core</strong>")
	assert.Contains(t, s, "<table>")
	assert.True(t, strings.HasSuffix(s, "</html>\n"))
}

func TestCheckpoints(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	cp, err := OpenCheckpoints(path)
	require.NoError(t, err)

	_, ok, err := cp.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cp.Put(ctx, "k1", "map", "first"))
	require.NoError(t, cp.Put(ctx, "k1", "map", "second"))
	require.NoError(t, cp.Put(ctx, "k2", "reduce", "doc"))

	v, ok, err := cp.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	counts, err := cp.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"map": 1, "reduce": 1}, counts)
	require.NoError(t, cp.Close())

	// Entries survive reopening.
	cp, err = OpenCheckpoints(path)
	require.NoError(t, err)
	defer cp.Close()
	v, ok, err = cp.Get(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "doc", v)

	require.NoError(t, cp.Clear(ctx))
	_, ok, err = cp.Get(ctx, "k2")
	require.NoError(t, err)
	assert.False(t, ok)
}

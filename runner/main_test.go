package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/lemmego/gem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func newTestApp(records ...gem.Record) (*App, *gem.MemorySource, *bytes.Buffer) {
	source := gem.NewMemorySource(records...)
	out := &bytes.Buffer{}
	app := &App{
		ctx:    context.Background(),
		out:    out,
		source: source,
		mapper: gem.NewMapper(gem.Schema{Name: "users"}, source),
	}
	return app, source, out
}

func TestRunCheck(t *testing.T) {
	path := writeConfig(t, "driver: memory\ntable: users\n")

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", path, "check"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "Memory (memory) ok\n", stdout.String())
}

func TestRunPut(t *testing.T) {
	path := writeConfig(t, "driver: memory\n")

	var stdout, stderr bytes.Buffer
	err := run([]string{"--config", path, "put", "name=ada", "age=36"}, &stdout, &stderr)
	require.NoError(t, err)
	assert.Equal(t, "inserted 1\n", stdout.String())
}

func TestRunErrors(t *testing.T) {
	t.Run("unsupported driver", func(t *testing.T) {
		path := writeConfig(t, "driver: oracle\n")
		err := run([]string{"--config", path, "check"}, &bytes.Buffer{}, &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, gem.IsValidation(err))
	})

	t.Run("missing record", func(t *testing.T) {
		path := writeConfig(t, "driver: memory\n")
		err := run([]string{"--config", path, "get", "7"}, &bytes.Buffer{}, &bytes.Buffer{})
		require.Error(t, err)
		assert.True(t, gem.IsNotFound(err))
	})

	t.Run("unknown command", func(t *testing.T) {
		path := writeConfig(t, "driver: memory\n")
		err := run([]string{"--config", path, "truncate"}, &bytes.Buffer{}, &bytes.Buffer{})
		assert.Error(t, err)
	})
}

func TestGetCmd(t *testing.T) {
	app, _, out := newTestApp(gem.Record{"id": int64(1), "name": "ada", "age": int64(36)})

	require.NoError(t, (&GetCmd{ID: 1}).Run(app))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "ada", doc["name"])
	assert.Equal(t, float64(36), doc["age"])
}

func TestPutCmd(t *testing.T) {
	app, source, out := newTestApp(gem.Record{"id": int64(1), "name": "ada"})

	t.Run("update", func(t *testing.T) {
		require.NoError(t, (&PutCmd{ID: 1, Fields: []string{"name=grace", "admin=true"}}).Run(app))
		assert.Equal(t, "updated 1\n", out.String())

		rec, found, err := source.Fetch(context.Background(), 1)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "grace", rec["name"])
		assert.Equal(t, true, rec["admin"])
	})

	t.Run("insert", func(t *testing.T) {
		out.Reset()
		require.NoError(t, (&PutCmd{Fields: []string{"name=linus", "score=1.5"}}).Run(app))
		assert.Equal(t, "inserted 2\n", out.String())
		assert.Equal(t, 2, source.Len())
	})

	t.Run("rejects id field", func(t *testing.T) {
		err := (&PutCmd{Fields: []string{"id=9"}}).Run(app)
		require.Error(t, err)
		assert.True(t, gem.IsInvalidArgument(err))
	})
}

func TestDeleteCmd(t *testing.T) {
	app, source, out := newTestApp(gem.Record{"id": int64(3), "name": "ada"})

	require.NoError(t, (&DeleteCmd{ID: 3}).Run(app))
	assert.Equal(t, "deleted 3\n", out.String())
	assert.Equal(t, 0, source.Len())

	err := (&DeleteCmd{ID: 3}).Run(app)
	require.Error(t, err)
	assert.True(t, gem.IsNotFound(err))
}

func TestParseFields(t *testing.T) {
	fields, err := parseFields([]string{"name=ada", "age=36", "ratio=0.5", "admin=false", "note="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"name":  "ada",
		"age":   int64(36),
		"ratio": 0.5,
		"admin": false,
		"note":  "",
	}, fields)

	_, err = parseFields([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseFields([]string{"=x"})
	assert.Error(t, err)
}

func TestOpenSourceUnsupported(t *testing.T) {
	_, err := openSource(context.Background(), gem.Config{Driver: "oracle"})
	require.Error(t, err)
	assert.True(t, gem.IsUnsupported(err))
}

package jsonmerge

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetKeysPreservesUnrelatedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "oauth_creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"access_token": "old",
		"refresh_token": "keep-me",
		"id_token": "also-keep-me",
		"expiry_date": 111
	}`), 0o600))

	require.NoError(t, SetKeys(path, map[string]any{
		"access_token": "new",
		"expiry_date":  222,
	}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, "new", doc["access_token"])
	assert.Equal(t, "keep-me", doc["refresh_token"])
	assert.Equal(t, "also-keep-me", doc["id_token"])
	assert.EqualValues(t, 222, doc["expiry_date"])
}

func TestSetKeysCreatesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "oauth_creds.json")

	require.NoError(t, SetKeys(path, map[string]any{"access_token": "first"}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "first", doc["access_token"])
}

package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFile writes content to dir/name and returns the path.
func WriteFile(t testing.TB, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// Subscriptions maps a topic URI to its subscriber URIs, in text form.
type Subscriptions map[string][]string

// WriteSubscriptions writes subs as a subscription file and returns the path.
func WriteSubscriptions(t testing.TB, dir string, subs Subscriptions) string {
	t.Helper()
	data, err := json.MarshalIndent(subs, "", "  ")
	require.NoError(t, err)
	return WriteFile(t, dir, "subscriptions.json", string(data))
}

// WriteJSON encodes v into dir/name and returns the path.
func WriteJSON(t testing.TB, dir, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return WriteFile(t, dir, name, string(data))
}

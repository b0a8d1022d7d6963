package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// LoadJSON decodes a file next to this package into target and returns the
// raw document as a map.
func LoadJSON(t testing.TB, filename string, target any) map[string]any {
	t.Helper()
	_, self, _, _ := runtime.Caller(0)
	data, err := os.ReadFile(filepath.Join(filepath.Dir(self), filename))
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	if target != nil {
		require.NoError(t, json.Unmarshal(data, target))
	}
	return raw
}

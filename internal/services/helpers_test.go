package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func mustJSON(t *testing.T, value any) datatypes.JSON {
	t.Helper()
	encoded, err := json.Marshal(value)
	require.NoError(t, err)
	return datatypes.JSON(encoded)
}

func TestNormaliseIDs(t *testing.T) {
	require.Nil(t, normaliseIDs(nil))
	require.Equal(t, []string{"a", "b"}, normaliseIDs([]string{" a ", "b", "a", ""}))
}

func TestContainsString(t *testing.T) {
	require.True(t, containsString([]string{"a", "b"}, "b"))
	require.False(t, containsString([]string{"a", "b"}, "c"))
	require.False(t, containsString([]string{"a"}, ""))
}

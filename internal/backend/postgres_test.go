package backend

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValueUUIDBytes(t *testing.T) {
	id := uuid.MustParse("3f1e9c1a-5a0b-4e2d-9f6a-1b2c3d4e5f60")
	var raw [16]byte = id

	got := normalizeValue(raw)
	require.Equal(t, "3f1e9c1a-5a0b-4e2d-9f6a-1b2c3d4e5f60", got)
}

func TestNormalizeValueTimestamp(t *testing.T) {
	at := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)

	got := normalizeValue(at)
	require.Equal(t, "2026-08-28T10:30:00Z", got)
}

func TestNormalizeValuePassthrough(t *testing.T) {
	require.Equal(t, "plain", normalizeValue("plain"))
	require.Equal(t, true, normalizeValue(true))
	require.Equal(t, int64(7), normalizeValue(int64(7)))
	require.Nil(t, normalizeValue(nil))
}

// A row shaped as the scan produces it must come out readable through plain
// string assertions, the way every consumer reads it.
func TestNormalizedRowReadsAsStrings(t *testing.T) {
	id := uuid.New()
	var rawID [16]byte = id

	row := Row{}
	for name, value := range map[string]any{
		"id":         rawID,
		"created_at": time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		"content":    "hello",
	} {
		row[name] = normalizeValue(value)
	}

	gotID, ok := row["id"].(string)
	require.True(t, ok, "id should normalize to a string, got %T", row["id"])
	require.Equal(t, id.String(), gotID)

	gotAt, ok := row["created_at"].(string)
	require.True(t, ok, "created_at should normalize to a string, got %T", row["created_at"])
	require.Equal(t, "2026-01-02T03:04:05Z", gotAt)

	require.Equal(t, "hello", row["content"])
}

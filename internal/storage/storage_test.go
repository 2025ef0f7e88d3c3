package storage

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldops/internal/model"
)

func TestValidKey(t *testing.T) {
	for key, want := range map[string]bool{
		"u1/1773047700000-abc.jpg": true,
		"u1/nested/photo.png":      true,
		"":                         false,
		"/u1/photo.jpg":            false,
		"u1/":                      false,
		"u1//photo.jpg":            false,
		"u1/../u2/photo.jpg":       false,
	} {
		assert.Equal(t, want, ValidKey(key), key)
	}
}

func TestMemoryStoreNeverOverwrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.PutNew(ctx, "u1/a.jpg", "image/jpeg", strings.NewReader("first"), 5))
	err := store.PutNew(ctx, "u1/a.jpg", "image/jpeg", strings.NewReader("second"), 6)
	require.ErrorIs(t, err, model.ErrConflict)

	obj, ok := store.Get("u1/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "first", string(obj.Data))

	require.ErrorIs(t, store.PutNew(ctx, "../a.jpg", "", strings.NewReader("x"), 1), ErrInvalidKey)
}

package nuheat

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestFileStore(t *testing.T) {
	store := FileStore{Path: filepath.Join(t.TempDir(), "token.json")}

	token, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, token)

	saved := oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		Expiry:       time.Date(2024, time.December, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Save(&saved))

	token, err = store.Load()
	require.NoError(t, err)
	require.NotNil(t, token)
	assert.Equal(t, "access", token.AccessToken)
	assert.Equal(t, "refresh", token.RefreshToken)
	assert.True(t, saved.Expiry.Equal(token.Expiry))

	require.NoError(t, store.Clear())
	token, err = store.Load()
	require.NoError(t, err)
	assert.Nil(t, token)

	// clearing an empty store is not an error
	assert.NoError(t, store.Clear())
}

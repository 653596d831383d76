package auth

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadStoreColonFormat(t *testing.T) {
	path := writeTempFile(t, `
# test credentials
alice:password123
bob:hunter2

charlie:secret:with:colons
`)

	store, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, 3, store.Len())

	assert.NoError(t, store.Verify("alice", "password123"))
	assert.NoError(t, store.Verify("bob", "hunter2"))
	// 口令中的冒号属于口令本身，只有首个冒号是分隔符。
	assert.NoError(t, store.Verify("charlie", "secret:with:colons"))
}

func TestLoadStoreJSONFormat(t *testing.T) {
	path := writeTempFile(t, `{"alice": "password123", "bob": "hunter2"}`)

	store, err := LoadStore(path)
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())
	assert.NoError(t, store.Verify("alice", "password123"))
}

func TestLoadStoreMalformed(t *testing.T) {
	_, err := LoadStore(writeTempFile(t, "not a record line"))
	assert.ErrorIs(t, err, merr.ErrCredentialFileInvalid)

	_, err = LoadStore(writeTempFile(t, `{"alice": 42}`))
	assert.ErrorIs(t, err, merr.ErrCredentialFileInvalid)

	_, err = LoadStore(filepath.Join(t.TempDir(), "missing.txt"))
	assert.ErrorIs(t, err, merr.ErrCredentialFileInvalid)
}

func TestVerifyErrors(t *testing.T) {
	store := NewStore(map[string]string{"alice": "password123"})

	assert.NoError(t, store.Verify("alice", "password123"))
	assert.ErrorIs(t, store.Verify("alice", "wrong"), merr.ErrAuthBadCredential)
	assert.ErrorIs(t, store.Verify("nobody", "password123"), merr.ErrAuthUnknownUser)
}

func TestVerifyArgon2(t *testing.T) {
	encoded, err := HashSecret("password123")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(encoded, "$argon2id$"))

	store := NewStore(map[string]string{"alice": encoded})
	assert.NoError(t, store.Verify("alice", "password123"))
	assert.ErrorIs(t, store.Verify("alice", "wrong"), merr.ErrAuthBadCredential)

	// 截断的编码串按口令不匹配处理。
	store = NewStore(map[string]string{"bob": "$argon2id$broken"})
	assert.ErrorIs(t, store.Verify("bob", "anything"), merr.ErrAuthBadCredential)
}

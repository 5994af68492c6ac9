package server

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fancoin/rostermint/signing"
)

func TestLoadOperator(t *testing.T) {
	_, key, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	keyb64 := base64.StdEncoding.EncodeToString(key)
	fromKey, err := signing.NewOperator(key)
	require.NoError(t, err)

	t.Run("generate new key", func(t *testing.T) {
		op, err := loadOperator(context.Background(), "", t.TempDir(), "")
		require.NoError(t, err)
		require.False(t, op.Address().IsZero())
	})
	t.Run("use key from ENV", func(t *testing.T) {
		op, err := loadOperator(context.Background(), "", t.TempDir(), keyb64)
		require.NoError(t, err)
		require.Equal(t, fromKey.Address(), op.Address())
	})
	t.Run("key must be 64B", func(t *testing.T) {
		_, err := loadOperator(context.Background(), "", t.TempDir(), "VGVzdA==")
		require.ErrorIs(t, err, signing.ErrInvalidKeypair)
	})
	t.Run("key must be base64", func(t *testing.T) {
		_, err := loadOperator(context.Background(), "", t.TempDir(), "not b64")
		require.Error(t, err)
	})
	t.Run("detect mismatch between persisted key and env", func(t *testing.T) {
		dir := t.TempDir()
		op, err := loadOperator(context.Background(), "", dir, "")
		require.NoError(t, err)
		require.NoError(t, saveOperator(dir, op))

		_, err = loadOperator(context.Background(), "", dir, keyb64)
		require.ErrorIs(t, err, ErrKeyMismatch)
	})
	t.Run("persisting key", func(t *testing.T) {
		dir := t.TempDir()
		op, err := loadOperator(context.Background(), "", dir, "")
		require.NoError(t, err)
		require.NoError(t, saveOperator(dir, op))

		op2, err := loadOperator(context.Background(), "", dir, "")
		require.NoError(t, err)
		require.Equal(t, op.Address(), op2.Address())
	})
	t.Run("keypair file wins", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "id.json")
		require.NoError(t, signing.SaveOperator(file, fromKey))

		op, err := loadOperator(context.Background(), file, t.TempDir(), "")
		require.NoError(t, err)
		require.Equal(t, fromKey.Address(), op.Address())
	})
	t.Run("missing keypair file", func(t *testing.T) {
		_, err := loadOperator(context.Background(), filepath.Join(t.TempDir(), "missing.json"), t.TempDir(), "")
		require.Error(t, err)
	})
}

package keystore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestGenerateSaveLoad_Roundtrip persists a keypair and loads both halves back.
func TestGenerateSaveLoad_Roundtrip(t *testing.T) {
	t.Parallel()

	kp, err := Generate()
	require.NoError(t, err)
	require.Equal(t, KeySize, kp.Private.N.BitLen())

	dir := t.TempDir()
	privatePath := filepath.Join(dir, "lightscope-private.pem")
	publicPath := filepath.Join(dir, "lightscope-public.pem")

	require.NoError(t, kp.Save(privatePath, publicPath))

	private, err := LoadPrivateKey(privatePath)
	require.NoError(t, err)
	require.True(t, kp.Private.Equal(private))

	public, err := LoadPublicKey(publicPath)
	require.NoError(t, err)
	require.True(t, kp.Public.Equal(public))
}

// TestSave_PrivateKeyPermissions ensures the private key is operator-only on disk.
func TestSave_PrivateKeyPermissions(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("POSIX file modes are not meaningful on Windows")
	}

	kp, err := Generate()
	require.NoError(t, err)

	dir := t.TempDir()
	privatePath := filepath.Join(dir, "private.pem")
	publicPath := filepath.Join(dir, "public.pem")

	require.NoError(t, kp.Save(privatePath, publicPath))

	info, err := os.Stat(privatePath)
	require.NoError(t, err)
	require.Equal(t, PrivateKeyPermissions, info.Mode().Perm())

	info, err = os.Stat(publicPath)
	require.NoError(t, err)
	require.Equal(t, PublicKeyPermissions, info.Mode().Perm())
}

// TestLoad_Errors covers missing files and invalid encodings.
func TestLoad_Errors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := LoadPrivateKey(filepath.Join(dir, "missing.pem"))
	require.ErrorIs(t, err, ErrKeyLoad)

	_, err = LoadPublicKey(filepath.Join(dir, "missing.pem"))
	require.ErrorIs(t, err, ErrKeyLoad)

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o600))

	_, err = LoadPrivateKey(garbage)
	require.ErrorIs(t, err, ErrKeyLoad)

	_, err = LoadPublicKey(garbage)
	require.ErrorIs(t, err, ErrKeyLoad)

	_, err = ParsePublicKey([]byte("still not a key"))
	require.ErrorIs(t, err, ErrKeyLoad)
}

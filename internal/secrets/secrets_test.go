package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	key, pub, err := GenerateKey()
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)
	require.Equal(t, pub, box.Recipient())

	sealed, err := box.Seal("0123456789abcdef")
	require.NoError(t, err)
	require.True(t, IsSealed(sealed))
	require.NotContains(t, sealed, "0123456789abcdef")

	plain, err := box.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "0123456789abcdef", plain)
}

func TestOpenPassesPlaintextThrough(t *testing.T) {
	t.Parallel()

	key, _, err := GenerateKey()
	require.NoError(t, err)
	box, err := NewBox(key)
	require.NoError(t, err)

	plain, err := box.Open("legacy-secret")
	require.NoError(t, err)
	require.Equal(t, "legacy-secret", plain)
}

func TestOpenWithWrongKeyFails(t *testing.T) {
	t.Parallel()

	k1, _, _ := GenerateKey()
	k2, _, _ := GenerateKey()
	b1, err := NewBox(k1)
	require.NoError(t, err)
	b2, err := NewBox(k2)
	require.NoError(t, err)

	sealed, err := b1.Seal("x")
	require.NoError(t, err)
	_, err = b2.Open(sealed)
	require.Error(t, err)
}

func TestLoadBoxFromFile(t *testing.T) {
	t.Parallel()

	key, pub, err := GenerateKey()
	require.NoError(t, err)
	p := filepath.Join(t.TempDir(), "age.key")
	body := "# created: 2026-01-01\n# public key: " + pub + "\n" + key + "\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))

	box, err := LoadBox("", p)
	require.NoError(t, err)
	require.Equal(t, pub, box.Recipient())

	_, err = LoadBox("", "")
	require.ErrorIs(t, err, ErrNoKey)
}

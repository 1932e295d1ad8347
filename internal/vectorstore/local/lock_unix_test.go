//go:build unix

package local

import (
	"testing"

	"github.com/stretchr/testify/require"

	"localrag/internal/domain"
)

func TestOpen_LockIsExclusive(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Dir: dir, Index: "docs_index", Lock: true}

	first, err := Open(cfg)
	require.NoError(t, err)

	_, err = Open(cfg)
	require.ErrorIs(t, err, domain.ErrIndexLocked)

	// other indexes in the same directory are independent
	other, err := Open(Config{Dir: dir, Index: "other", Lock: true})
	require.NoError(t, err)
	require.NoError(t, other.Close())

	require.NoError(t, first.Close())
	second, err := Open(cfg)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

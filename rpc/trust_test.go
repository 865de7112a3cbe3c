package rpc

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hohhen/Halibut/rpclog"
)

func TestTrustSetAddRevoke(t *testing.T) {
	set := NewTrustSet("AA:BB:CC")
	require.True(t, set.IsTrusted("aa:bb:cc"), "lookups are case-insensitive")

	set.Trust("dd:ee:ff")
	require.True(t, set.IsTrusted("dd:ee:ff"))

	set.Revoke("aa:bb:cc")
	require.False(t, set.IsTrusted("aa:bb:cc"))
	require.True(t, set.IsTrusted("dd:ee:ff"))
}

func TestTrustSetReplaceAndSnapshot(t *testing.T) {
	set := NewTrustSet("one", "two")
	set.Replace([]string{"three", "four"})

	require.False(t, set.IsTrusted("one"))
	require.True(t, set.IsTrusted("three"))
	require.True(t, set.IsTrusted("four"))
	require.ElementsMatch(t, []string{"three", "four"}, set.Snapshot())
}

func TestWatchTrustFileReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trust.txt")
	require.NoError(t, os.WriteFile(path, []byte("aaaa\n# comment\nbbbb\n"), 0o600))

	set := NewTrustSet()
	stop, err := WatchTrustFile(set, path, rpclog.Nop())
	require.NoError(t, err)
	defer stop()

	require.True(t, set.IsTrusted("aaaa"))
	require.True(t, set.IsTrusted("bbbb"))

	require.NoError(t, os.WriteFile(path, []byte("cccc\n"), 0o600))

	require.Eventually(t, func() bool {
		return set.IsTrusted("cccc") && !set.IsTrusted("aaaa")
	}, 2*time.Second, 10*time.Millisecond)
}

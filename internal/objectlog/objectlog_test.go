package objectlog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLogObjectAppendsCSVRow(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, func() int64 { return 1234 })
	require.NoError(t, err)

	l.LogObject("conn-1", 7, 1, 0, 9, 128)
	l.LogObject("conn-1", 7, 1, 0, 10, 64)
	require.NoError(t, l.Close())

	data, err := os.ReadFile(filepath.Join(dir, "track-7.csv"))
	require.NoError(t, err)
	require.Equal(t, "1,0,9,128,1234\n1,0,10,64,1234\n", string(data))
}

func TestLogObjectSeparatesTracksIntoFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, func() int64 { return 0 })
	require.NoError(t, err)
	defer l.Close()

	l.LogObject("conn-1", 1, 0, 0, 0, 1)
	l.LogObject("conn-1", 2, 0, 0, 0, 1)

	_, err = os.Stat(filepath.Join(dir, "track-1.csv"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "track-2.csv"))
	require.NoError(t, err)
}

package utilities

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawLogDailyFiles(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "logs")
	l := NewRawLog(dir)
	now := time.Date(2025, time.March, 14, 23, 59, 58, 0, time.UTC)
	l.now = func() time.Time { return now }

	require.NoError(t, l.CreateLog("TCP", "hello"))
	require.NoError(t, l.CreateLog("TCP", "again"))
	now = now.Add(5 * time.Second)
	require.NoError(t, l.CreateLog("TCP", "tomorrow"))

	b, err := os.ReadFile(filepath.Join(dir, "TCP_20250314.log"))
	require.NoError(t, err)
	assert.Equal(t, "23:59:58 - hello\n23:59:58 - again\n", string(b))

	b, err = os.ReadFile(filepath.Join(dir, "TCP_20250315.log"))
	require.NoError(t, err)
	assert.Equal(t, "00:00:03 - tomorrow\n", string(b))
}

func TestRawLogDisabled(t *testing.T) {
	t.Parallel()

	l := NewRawLog("")
	assert.Nil(t, l)
	assert.NoError(t, l.CreateLog("TCP", "dropped"))
}

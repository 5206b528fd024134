package logging

import (
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_LevelAndOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Env: "test", Output: &buf})

	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())

	logger.Info("hidden")
	logger.WithField("job_id", "abc").Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "abc")
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	logger := New(Options{Level: "chatty", Env: "test", Output: &bytes.Buffer{}})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestNew_FileOutput(t *testing.T) {
	dir := t.TempDir()

	logger := New(Options{Dir: dir, Env: "development", Output: &bytes.Buffer{}})
	logger.Info("to file")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "app-")
}

func TestNew_NoFileInTestEnv(t *testing.T) {
	dir := t.TempDir()

	logger := New(Options{Dir: dir, Env: "test", Output: &bytes.Buffer{}})
	logger.Info("stderr only")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_WritesToLogDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(LogOption{Format: "json", LogDir: dir, Level: "debug"}))
	defer func() { _ = Init(LogOption{}) }()

	Infof("[Test] hello %d", 42)
	_ = Sync()

	data, err := os.ReadFile(filepath.Join(dir, logFileName))
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Test] hello 42")
}

func TestInit_InvalidLevel(t *testing.T) {
	err := Init(LogOption{Level: "verbose"})
	assert.Error(t, err)
}

package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSaveAndRemove(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(filepath.Join(dir, "resumes"))
	require.NoError(t, err)

	p, err := l.Save(context.Background(), ".PDF", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, PublicPrefix))
	assert.True(t, strings.HasSuffix(p, ".pdf"))

	data, err := os.ReadFile(filepath.Join(dir, "resumes", filepath.Base(p)))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4", string(data))

	require.NoError(t, l.Remove(context.Background(), p))
	_, err = os.Stat(filepath.Join(dir, "resumes", filepath.Base(p)))
	assert.True(t, os.IsNotExist(err))

	// 2回目は存在しなくてもエラーにならない
	assert.NoError(t, l.Remove(context.Background(), p))
}

func TestLocalSaveUsesUniqueNames(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	a, err := l.Save(context.Background(), ".docx", strings.NewReader("a"))
	require.NoError(t, err)
	b, err := l.Save(context.Background(), ".docx", strings.NewReader("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestLocalRemoveRejectsForeignPaths(t *testing.T) {
	l, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, l.Remove(context.Background(), "/etc/passwd"))
}

func TestNewLocalRequiresDir(t *testing.T) {
	_, err := NewLocal(" ")
	assert.Error(t, err)
}

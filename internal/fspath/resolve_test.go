package fspath

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(""), 0644))
}

func TestResolve_ExactMatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "define.h")
	touch(t, path)

	got, ok := Resolve(dir, "define.h")
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestResolve_Backslashes(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "headers")
	require.NoError(t, os.Mkdir(sub, 0755))
	path := filepath.Join(sub, "sfall.h")
	touch(t, path)

	got, ok := Resolve(dir, "headers\\sfall.h")
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestResolve_CaseInsensitiveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Define.h")
	touch(t, path)

	got, ok := Resolve(dir, "DEFINE.H")
	require.True(t, ok)
	assert.Equal(t, path, got, "result carries the on-disk casing")
}

func TestResolve_CaseInsensitiveDirectory(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "Headers")
	require.NoError(t, os.Mkdir(sub, 0755))
	path := filepath.Join(sub, "ItemPid.h")
	touch(t, path)

	got, ok := Resolve(dir, "HEADERS\\itempid.h")
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestResolve_ParentSegments(t *testing.T) {
	dir := t.TempDir()
	scripts := filepath.Join(dir, "scripts")
	headers := filepath.Join(dir, "headers")
	for _, d := range []string{scripts, headers} {
		require.NoError(t, os.Mkdir(d, 0755))
	}
	path := filepath.Join(headers, "define.h")
	touch(t, path)

	got, ok := Resolve(scripts, "..\\HEADERS\\define.h")
	require.True(t, ok)
	assert.Equal(t, path, got)
}

func TestResolve_NotFound(t *testing.T) {
	dir := t.TempDir()

	_, ok := Resolve(dir, "missing.h")
	assert.False(t, ok)
	_, ok = Resolve(dir, "no\\such\\dir.h")
	assert.False(t, ok)
	_, ok = Resolve(dir, "")
	assert.False(t, ok)
}

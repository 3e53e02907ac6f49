package outputresolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
}

func TestResolvePrefersDotOut(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "water.out"))
	touch(t, filepath.Join(dir, "water.log"))

	path, ok := Resolve(dir, "water")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "water.out"), path)
}

func TestResolveFallsBackToOrcaLog(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "water_orca.log"))

	path, ok := Resolve(dir, "water")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "water_orca.log"), path)
}

func TestResolveFallsBackToDotLog(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "water.log"))

	path, ok := Resolve(dir, "water")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "water.log"), path)
}

func TestResolveFallsBackToGlobClasses(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "methane.out"))

	path, ok := Resolve(dir, "water")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "methane.out"), path)
}

func TestResolveGlobAlphabeticalWithinClass(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "zzz.out"))
	touch(t, filepath.Join(dir, "aaa.out"))

	path, ok := Resolve(dir, "water")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "aaa.out"), path)
}

func TestResolveReturnsFalseWhenNothingMatches(t *testing.T) {
	dir := t.TempDir()
	_, ok := Resolve(dir, "water")
	assert.False(t, ok)
}

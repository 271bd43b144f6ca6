package imagepkg

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/image/font/basicfont"
)

func TestResolveFont_FirstExistingCandidateWins(t *testing.T) {
	dir := t.TempDir()
	good := writeGoFont(t, dir)
	missing := filepath.Join(dir, "Helvetica.ttc")

	res := ResolveFont([]string{missing, good}, 41)
	defer res.Face.Close()

	require.False(t, res.Fallback)
	require.Equal(t, good, res.Path)
	require.Equal(t, 41.0, res.Size)
	require.Len(t, res.Failures, 1)
	require.Equal(t, missing, res.Failures[0].Path)
	require.ErrorIs(t, res.Failures[0], fs.ErrNotExist)
}

func TestResolveFont_CorruptCandidateFallsThrough(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "broken.ttf")
	require.NoError(t, os.WriteFile(corrupt, []byte("not a font"), 0o600))
	good := writeGoFont(t, dir)

	res := ResolveFont([]string{corrupt, good}, 39)
	defer res.Face.Close()

	require.False(t, res.Fallback)
	require.Equal(t, good, res.Path)
	require.Len(t, res.Failures, 1)
	require.Contains(t, res.Failures[0].Error(), "parse font")
}

func TestResolveFont_ExhaustedUsesBitmapFallback(t *testing.T) {
	dir := t.TempDir()
	corrupt := filepath.Join(dir, "broken.ttf")
	require.NoError(t, os.WriteFile(corrupt, []byte("garbage"), 0o600))

	res := ResolveFont([]string{filepath.Join(dir, "a.ttf"), corrupt}, 50)

	require.True(t, res.Fallback)
	require.Same(t, basicfont.Face7x13, res.Face)
	require.Empty(t, res.Path)
	require.Len(t, res.Failures, 2)
}

func TestResolveFont_NoCandidates(t *testing.T) {
	res := ResolveFont(nil, 12)
	require.True(t, res.Fallback)
	require.Empty(t, res.Failures)
}

func TestResolveFont_Deterministic(t *testing.T) {
	dir := t.TempDir()
	candidates := []string{filepath.Join(dir, "missing.ttf"), writeGoFont(t, dir)}

	first := ResolveFont(candidates, 41)
	defer first.Face.Close()
	for i := 0; i < 5; i++ {
		again := ResolveFont(candidates, 41)
		require.Equal(t, first.Path, again.Path)
		require.Equal(t, first.Fallback, again.Fallback)
		require.Equal(t, first.Face.Metrics(), again.Face.Metrics())
		require.NoError(t, again.Face.Close())
	}
}

func TestResolveFont_HonorsSize(t *testing.T) {
	path := writeGoFont(t, t.TempDir())

	small := ResolveFont([]string{path}, 20)
	defer small.Face.Close()
	large := ResolveFont([]string{path}, 50)
	defer large.Face.Close()

	require.Greater(t, large.Face.Metrics().Ascent, small.Face.Metrics().Ascent)
}

func TestFontCache_ReusesParsedFonts(t *testing.T) {
	dir := t.TempDir()
	path := writeGoFont(t, dir)
	cache := NewFontCache([]string{path})

	first := cache.Resolve(41)
	defer first.Face.Close()
	require.False(t, first.Fallback)
	require.Equal(t, 1, cache.Len())

	// the cached parse survives the file going away
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.WriteFile(path, []byte("overwritten"), 0o600))
	second := cache.Resolve(39)
	defer second.Face.Close()
	require.False(t, second.Fallback)

	cache.Flush()
	require.Equal(t, 0, cache.Len())
	third := cache.Resolve(39)
	require.True(t, third.Fallback, "flushed cache re-reads the now corrupt file")
}

package main

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Chanpoe/ModelHub/pkg/modeladapter/usage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtTokens(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1.0k"},
		{15000, "15.0k"},
		{1_000_000, "1.0M"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, fmtTokens(tt.input), "fmtTokens(%d)", tt.input)
	}
}

func TestFmtUsage(t *testing.T) {
	assert.Equal(t, "5 in / 3 out / 8 total", fmtUsage(usage.TokenCount{InputTokens: 5, OutputTokens: 3}))
	assert.Equal(t, "1.2k in / 30 out / 1.2k total (estimated)",
		fmtUsage(usage.TokenCount{InputTokens: 1200, OutputTokens: 30, Estimated: true}))
}

func TestFmtDuration(t *testing.T) {
	assert.Equal(t, "0.1s", fmtDuration(100*time.Millisecond))
	assert.Equal(t, "1m 5s", fmtDuration(65*time.Second))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "hello", truncate("hello", 10))
	assert.Equal(t, "hel...", truncate("hello world", 3))
	assert.Equal(t, "hello world", truncate("hello\nworld", 20))
	assert.Empty(t, truncate("", 5))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitList(" a, ,b ,"))
	assert.Empty(t, splitList(""))
}

func TestLoadImage(t *testing.T) {
	t.Run("url", func(t *testing.T) {
		img, err := loadImage("https://example.com/cat.png")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/cat.png", img.URL)
		assert.False(t, img.Inline())
	})

	t.Run("data uri", func(t *testing.T) {
		img, err := loadImage("data:image/jpeg;base64,YWJj")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), img.Data)
		assert.Equal(t, "image/jpeg", img.MediaType)
		assert.Equal(t, "low", img.Detail)
	})

	t.Run("raw base64", func(t *testing.T) {
		gif := base64.StdEncoding.EncodeToString([]byte("GIF89a\x01\x00\x01\x00"))

		for _, ref := range []string{"base64:" + gif, gif} {
			img, err := loadImage(ref)
			require.NoError(t, err)
			assert.Equal(t, "image/gif", img.MediaType)
			assert.Equal(t, "low", img.Detail)
			assert.True(t, img.Inline())
		}
	})

	t.Run("raw base64 defaults to png", func(t *testing.T) {
		img, err := loadImage("base64:YWJj")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), img.Data)
		assert.Equal(t, "image/png", img.MediaType)
	})

	t.Run("bad base64", func(t *testing.T) {
		_, err := loadImage("base64:not base64!")
		assert.ErrorContains(t, err, "decode base64 image")
	})

	t.Run("file by extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pic.png")
		require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0o600))

		img, err := loadImage(path)
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.MediaType)
		assert.Equal(t, []byte("not really a png"), img.Data)
		assert.Equal(t, "low", img.Detail)
	})

	t.Run("file by content", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pic")
		gif := []byte("GIF89a\x01\x00\x01\x00")
		require.NoError(t, os.WriteFile(path, gif, 0o600))

		img, err := loadImage(path)
		require.NoError(t, err)
		assert.Equal(t, "image/gif", img.MediaType)
	})

	t.Run("not an image", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("hello"), 0o600))

		_, err := loadImage(path)
		assert.ErrorContains(t, err, "is not an image")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadImage(filepath.Join(t.TempDir(), "nope.png"))
		assert.ErrorContains(t, err, "read image")
	})
}

func TestResolveConfigPath(t *testing.T) {
	p, err := resolveConfigPath("explicit.yaml")
	require.NoError(t, err)
	assert.Equal(t, "explicit.yaml", p)

	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)

	_, err = resolveConfigPath("")
	require.ErrorContains(t, err, "no config file found")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "modelhub.toml"), []byte(""), 0o600))
	p, err = resolveConfigPath("")
	require.NoError(t, err)
	assert.Equal(t, "modelhub.toml", p)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "modelhub.yaml"), []byte(""), 0o600))
	p, err = resolveConfigPath("")
	require.NoError(t, err)
	assert.Equal(t, "modelhub.yaml", p)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("MODELHUB_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("MODELHUB_TEST_DOTENV") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("MODELHUB_TEST_DOTENV"))
}

func TestNewRenderer_NonTerminal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	render := newRenderer(f)
	assert.Equal(t, "**bold**", render("**bold**"))
}

package contract

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"jpg": FormatJPEG, "JPEG": FormatJPEG, "png": FormatPNG,
		"tif": FormatTIFF, "x-ms-bmp": FormatBMP, "webp": FormatWEBP,
	}
	for in, want := range cases {
		got, ok := ParseFormat(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := ParseFormat("jp2")
	assert.False(t, ok)
}

func TestFormatClasses(t *testing.T) {
	assert.False(t, FormatJPEG.NeedsConversion())
	assert.False(t, FormatPNG.NeedsConversion())
	for _, f := range []Format{FormatGIF, FormatBMP, FormatTIFF, FormatWEBP} {
		assert.True(t, f.Accepted(), f)
		assert.True(t, f.NeedsConversion(), f)
	}
	assert.False(t, Format("svg").Accepted())
	f, ok := FormatOf("/a/b/scan.TIF")
	require.True(t, ok)
	assert.Equal(t, FormatTIFF, f)
	_, ok = FormatOf("/a/b/noext")
	assert.False(t, ok)
}

func TestArtifactsFor(t *testing.T) {
	a := ArtifactsFor("/out", "/in/page.01.jpg", "google")
	assert.Equal(t, filepath.Join("/out", "page.01.google.txt"), a.Text)
	assert.Equal(t, filepath.Join("/out", "page.01.google.json"), a.JSON)

	a = ArtifactsFor("", "/in/page.png", "mock")
	assert.Equal(t, filepath.Join("/in", "page.mock.txt"), a.Text)
}

func TestLooksLikeURL(t *testing.T) {
	assert.True(t, LooksLikeURL("https://x.org/a.jpg"))
	assert.True(t, LooksLikeURL("HTTP://x.org/a.jpg"))
	assert.True(t, LooksLikeURL("ftp://x.org/a.jpg"))
	assert.False(t, LooksLikeURL("/tmp/http/a.jpg"))
	assert.False(t, LooksLikeURL("httpdocs/a.jpg"))
}

func TestShortcutContent(t *testing.T) {
	assert.Equal(t, "[InternetShortcut]\nURL=https://x.org/a.png\n", ShortcutContent("https://x.org/a.png"))
}

func TestResultLookup(t *testing.T) {
	r := Result{
		"a": map[string]any{"b": []any{map[string]any{"c": "hit"}}},
		"n": 1.0,
	}
	s, err := r.TextAt("a", "b", "0", "c")
	require.NoError(t, err)
	assert.Equal(t, "hit", s)

	_, err = r.TextAt("a", "b", "1", "c")
	assert.ErrorIs(t, err, ErrNoText)
	_, err = r.TextAt("n")
	assert.ErrorIs(t, err, ErrNoText)
}

func TestServiceFailure(t *testing.T) {
	cause := errors.New("PERMISSION_DENIED")
	err := AuthFailure("google", cause)
	assert.ErrorIs(t, err, ErrAuth)
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsServiceFailure(err))
	assert.Contains(t, err.Error(), "google")
	assert.False(t, IsServiceFailure(ErrTooLarge))
}

func TestHTTPError(t *testing.T) {
	var err error = &HTTPError{Service: "fetch", Status: 404, Message: "missing", Kind: ErrDownload}
	assert.ErrorIs(t, err, ErrDownload)
	var up UpstreamError
	require.ErrorAs(t, err, &up)
	assert.Equal(t, 404, up.UpstreamStatus())
	assert.True(t, AuthStatus(403))
	assert.False(t, AuthStatus(500))
}

// 长消息按 rune 边界截断，不产生非法 UTF-8。
func TestHTTPErrorTruncatesOnRune(t *testing.T) {
	msg := "a" + strings.Repeat("汉", 100)
	err := &HTTPError{Service: "ocr", Status: 500, Message: msg}
	s := err.Error()
	assert.True(t, utf8.ValidString(s))
	assert.True(t, strings.HasSuffix(s, "汉…"), s)
	assert.Less(t, len(s), len("ocr: http 500: ")+len(msg))
}

func TestReadImageLimit(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.png")
	require.NoError(t, os.WriteFile(p, make([]byte, 64), 0o644))

	b, err := ReadImage(p, 64)
	require.NoError(t, err)
	assert.Len(t, b, 64)

	_, err = ReadImage(p, 63)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = ReadImage(dir, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoadCredentials(t *testing.T) {
	dir := t.TempDir()
	var v struct {
		APIKey string `json:"api_key"`
	}
	err := LoadCredentials(dir, "openai", &v)
	assert.ErrorIs(t, err, ErrCredentials)

	require.NoError(t, os.WriteFile(CredentialsPath(dir, "openai"), []byte(`{"api_key":"k"}`), 0o600))
	require.NoError(t, LoadCredentials(dir, "openai", &v))
	assert.Equal(t, "k", v.APIKey)

	require.NoError(t, os.WriteFile(CredentialsPath(dir, "openai"), []byte(`{"apikey":"k"}`), 0o600))
	assert.ErrorIs(t, LoadCredentials(dir, "openai", &v), ErrCredentials)

	require.NoError(t, os.WriteFile(CredentialsPath(dir, "openai"), []byte("  \n"), 0o600))
	assert.ErrorIs(t, LoadCredentials(dir, "openai", &v), ErrCredentials)
}

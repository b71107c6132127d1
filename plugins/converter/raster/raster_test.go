package raster

import (
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"handprint/pkg/contract"
	wfs "handprint/plugins/writer/filesystem"
)

func sample(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.Black)
	}
	return img
}

func writeSample(t *testing.T, dir, name string, enc func(f *os.File) error) string {
	t.Helper()
	p := filepath.Join(dir, name)
	f, err := os.Create(p)
	require.NoError(t, err)
	require.NoError(t, enc(f))
	require.NoError(t, f.Close())
	return p
}

func decodeJPEG(t *testing.T, p string) image.Image {
	t.Helper()
	f, err := os.Open(p)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}

func TestConvertFormats(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	inputs := map[contract.Format]string{
		contract.FormatGIF: writeSample(t, src, "a.gif", func(f *os.File) error {
			return gif.Encode(f, sample(8, 6), nil)
		}),
		contract.FormatBMP: writeSample(t, src, "b.bmp", func(f *os.File) error {
			return bmp.Encode(f, sample(8, 6))
		}),
		contract.FormatTIFF: writeSample(t, src, "c.tif", func(f *os.File) error {
			return tiff.Encode(f, sample(8, 6), nil)
		}),
	}
	c, err := New(nil, wfs.New(nil))
	require.NoError(t, err)
	for format, p := range inputs {
		dest, err := c.Convert(context.Background(), p, format, out)
		require.NoError(t, err, format)
		assert.Equal(t, filepath.Join(out, contract.Stem(p)+".jpg"), dest)
		img := decodeJPEG(t, dest)
		assert.Equal(t, 8, img.Bounds().Dx())
		assert.Equal(t, 6, img.Bounds().Dy())
	}
}

func TestConvertUniversalPassthrough(t *testing.T) {
	c, _ := New(nil, wfs.New(nil))
	got, err := c.Convert(context.Background(), "/x/a.png", contract.FormatPNG, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/x/a.png", got)
}

// 同名的无关 JPEG 不被复用也不被覆盖，转换结果改写到 <stem>.<format>.jpg。
func TestConvertForeignDestination(t *testing.T) {
	src := t.TempDir()
	p := writeSample(t, src, "page.gif", func(f *os.File) error { return gif.Encode(f, sample(4, 4), nil) })
	foreign := filepath.Join(src, "page.jpg")
	require.NoError(t, os.WriteFile(foreign, []byte("UNRELATED PHOTO BYTES"), 0o644))

	c, _ := New(nil, wfs.New(nil))
	dest, err := c.Convert(context.Background(), p, contract.FormatGIF, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, "page.gif.jpg"), dest)
	img := decodeJPEG(t, dest)
	assert.Equal(t, 4, img.Bounds().Dx())
	b, _ := os.ReadFile(foreign)
	assert.Equal(t, "UNRELATED PHOTO BYTES", string(b))

	// 两个候选名都被占用
	require.NoError(t, os.WriteFile(dest, []byte("ALSO UNRELATED"), 0o644))
	_, err = c.Convert(context.Background(), p, contract.FormatGIF, "")
	assert.ErrorIs(t, err, contract.ErrConversion)
}

// 同一源的既有转换结果被复用；源变化后重写。
func TestConvertReusesOwnOutput(t *testing.T) {
	src := t.TempDir()
	p := writeSample(t, src, "a.gif", func(f *os.File) error { return gif.Encode(f, sample(4, 4), nil) })
	c, _ := New(nil, wfs.New(nil))

	dest, err := c.Convert(context.Background(), p, contract.FormatGIF, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, "a.jpg"), dest)
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(dest, old, old))

	again, err := c.Convert(context.Background(), p, contract.FormatGIF, "")
	require.NoError(t, err)
	assert.Equal(t, dest, again)
	st, err := os.Stat(dest)
	require.NoError(t, err)
	assert.WithinDuration(t, old, st.ModTime(), time.Second)

	writeSample(t, src, "a.gif", func(f *os.File) error { return gif.Encode(f, sample(6, 6), nil) })
	again, err = c.Convert(context.Background(), p, contract.FormatGIF, "")
	require.NoError(t, err)
	assert.Equal(t, dest, again)
	assert.Equal(t, 6, decodeJPEG(t, dest).Bounds().Dx())
}

// 同 stem 的两个源互不覆盖对方的转换结果。
func TestConvertSameStemSources(t *testing.T) {
	src := t.TempDir()
	g := writeSample(t, src, "a.gif", func(f *os.File) error { return gif.Encode(f, sample(4, 4), nil) })
	b := writeSample(t, src, "a.bmp", func(f *os.File) error { return bmp.Encode(f, sample(6, 6)) })
	c, _ := New(nil, wfs.New(nil))

	gd, err := c.Convert(context.Background(), g, contract.FormatGIF, "")
	require.NoError(t, err)
	bd, err := c.Convert(context.Background(), b, contract.FormatBMP, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(src, "a.jpg"), gd)
	assert.Equal(t, filepath.Join(src, "a.bmp.jpg"), bd)
	assert.Equal(t, 4, decodeJPEG(t, gd).Bounds().Dx())
	assert.Equal(t, 6, decodeJPEG(t, bd).Bounds().Dx())

	again, err := c.Convert(context.Background(), g, contract.FormatGIF, "")
	require.NoError(t, err)
	assert.Equal(t, gd, again)
}

func TestConvertCorrupt(t *testing.T) {
	src := t.TempDir()
	p := filepath.Join(src, "bad.bmp")
	require.NoError(t, os.WriteFile(p, []byte("BM this is not a bitmap"), 0o644))
	c, _ := New(nil, wfs.New(nil))
	_, err := c.Convert(context.Background(), p, contract.FormatBMP, src)
	assert.ErrorIs(t, err, contract.ErrConversion)
	_, statErr := os.Stat(filepath.Join(src, "bad.jpg"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestConvertMaxDimension(t *testing.T) {
	src := t.TempDir()
	p := writeSample(t, src, "wide.gif", func(f *os.File) error { return gif.Encode(f, sample(40, 10), nil) })
	c, err := New(&Options{MaxDimension: 20}, wfs.New(nil))
	require.NoError(t, err)
	dest, err := c.Convert(context.Background(), p, contract.FormatGIF, src)
	require.NoError(t, err)
	img := decodeJPEG(t, dest)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
}

func TestNewValidates(t *testing.T) {
	_, err := New(&Options{Quality: 101}, wfs.New(nil))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(&Options{MaxDimension: -1}, wfs.New(nil))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

// Package raster 把非通用格式（gif/bmp/tiff/webp）转换为 JPEG。
package raster

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"handprint/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// Quality: JPEG 质量 1..100；默认 95。
	Quality int `json:"quality,omitempty"`
	// MaxDimension: >0 时按比例缩小，使长边不超过该值。
	MaxDimension int `json:"max_dimension,omitempty"`
}

// Raster 基于 image 解码器与 x/image 扩展解码器的转换器。
type Raster struct {
	quality int
	maxDim  int
	w       contract.Writer
}

// New 创建转换器；输出经 w 原子写出。
func New(opts *Options, w contract.Writer) (*Raster, error) {
	if opts == nil {
		opts = &Options{}
	}
	q := opts.Quality
	if q == 0 {
		q = 95
	}
	if q < 1 || q > 100 {
		return nil, fmt.Errorf("%w: jpeg quality %d out of range", contract.ErrInvalidInput, q)
	}
	if opts.MaxDimension < 0 {
		return nil, fmt.Errorf("%w: max_dimension %d", contract.ErrInvalidInput, opts.MaxDimension)
	}
	return &Raster{quality: q, maxDim: opts.MaxDimension, w: w}, nil
}

var _ contract.Converter = (*Raster)(nil)

// Convert 写出 <dir>/<stem>.jpg 并返回其路径。
// 通用格式原样返回。目标已存在时：由同一源文件转换而来则复用；
// 同名源的旧转换结果则重写；其它文件一律不覆盖，改用 <stem>.<format>.jpg。
func (c *Raster) Convert(ctx context.Context, src string, from contract.Format, dir string) (string, error) {
	if !from.NeedsConversion() {
		return src, nil
	}
	if dir == "" {
		dir = filepath.Dir(src)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", contract.ErrConversion, err)
	}
	tag := sourceTag(src, data)

	var dest string
	for _, cand := range []string{
		filepath.Join(dir, contract.Stem(src)+".jpg"),
		filepath.Join(dir, contract.Stem(src)+"."+string(from)+".jpg"),
	} {
		switch owner(cand, tag) {
		case ownSame:
			return cand, nil
		case ownNone, ownStale:
			dest = cand
		}
		if dest != "" {
			break
		}
	}
	if dest == "" {
		return "", fmt.Errorf("%w: %s: destination names taken by other files", contract.ErrConversion, src)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: %s is %s", contract.ErrConversion, src, mt.String())
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: decode %s: %v", contract.ErrConversion, src, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, c.flatten(img), &jpeg.Options{Quality: c.quality}); err != nil {
		return "", fmt.Errorf("%w: encode %s: %v", contract.ErrConversion, src, err)
	}
	enc := buf.Bytes()
	// SOI 之后插入 COM 段记录来源
	body := io.MultiReader(bytes.NewReader(enc[:2]), bytes.NewReader(comSegment(tag)), bytes.NewReader(enc[2:]))
	if err := c.w.Write(ctx, dest, body); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w: write %s: %v", contract.ErrConversion, dest, err)
	}
	return dest, nil
}

const tagPrefix = "handprint-src:"

type ownership int

const (
	ownNone    ownership = iota // 不存在
	ownSame                     // 由同一源转换而来
	ownStale                    // 同名源的旧转换结果，源内容已变化
	ownForeign                  // 其它文件
)

// sourceTag: 源文件名摘要（前 8 字节）加内容摘要，定长。
func sourceTag(src string, data []byte) string {
	name := sha256.Sum256([]byte(filepath.Base(src)))
	sum := sha256.Sum256(data)
	return tagPrefix + hex.EncodeToString(name[:8]) + ":" + hex.EncodeToString(sum[:])
}

func comSegment(tag string) []byte {
	n := len(tag) + 2
	return append([]byte{0xFF, 0xFE, byte(n >> 8), byte(n)}, tag...)
}

// owner 读取 dest 开头的 COM 段判断其来源。
func owner(dest, tag string) ownership {
	st, err := os.Stat(dest)
	if errors.Is(err, os.ErrNotExist) {
		return ownNone
	}
	if err != nil || !st.Mode().IsRegular() {
		return ownForeign
	}
	f, err := os.Open(dest)
	if err != nil {
		return ownForeign
	}
	defer f.Close()
	head := make([]byte, 2+len(comSegment(tag)))
	if _, err := io.ReadFull(f, head); err != nil {
		return ownForeign
	}
	want := append([]byte{0xFF, 0xD8}, comSegment(tag)...)
	switch {
	case bytes.Equal(head, want):
		return ownSame
	case bytes.Equal(head[:6+len(tagPrefix)+16], want[:6+len(tagPrefix)+16]):
		return ownStale
	default:
		return ownForeign
	}
}

// flatten 铺白底去除透明通道，必要时缩放。
func (c *Raster) flatten(src image.Image) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if c.maxDim > 0 && (w > c.maxDim || h > c.maxDim) {
		if w >= h {
			h = max(1, h*c.maxDim/w)
			w = c.maxDim
		} else {
			w = max(1, w*c.maxDim/h)
			h = c.maxDim
		}
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

package contract

import (
	"path/filepath"
	"strings"
)

// Format: 规范化图像格式名（小写；jpg→jpeg，tif→tiff）。
type Format string

const (
	FormatJPEG Format = "jpeg"
	FormatPNG  Format = "png"
	FormatGIF  Format = "gif"
	FormatBMP  Format = "bmp"
	FormatTIFF Format = "tiff"
	FormatWEBP Format = "webp"
)

// 各服务均可直接接收的格式；其余可接受格式需先转换为 JPEG。
var universal = map[Format]bool{FormatJPEG: true, FormatPNG: true}

var accepted = map[Format]bool{
	FormatJPEG: true,
	FormatPNG:  true,
	FormatGIF:  true,
	FormatBMP:  true,
	FormatTIFF: true,
	FormatWEBP: true,
}

// 别名：扩展名与 MIME 子类型都归一到此表。
var aliases = map[string]Format{
	"jpeg":     FormatJPEG,
	"jpg":      FormatJPEG,
	"jpe":      FormatJPEG,
	"pjpeg":    FormatJPEG,
	"png":      FormatPNG,
	"gif":      FormatGIF,
	"bmp":      FormatBMP,
	"x-ms-bmp": FormatBMP,
	"x-bmp":    FormatBMP,
	"tif":      FormatTIFF,
	"tiff":     FormatTIFF,
	"webp":     FormatWEBP,
}

// ParseFormat 将扩展名（不含点）或 MIME 子类型映射为 Format。
func ParseFormat(s string) (Format, bool) {
	f, ok := aliases[strings.ToLower(strings.TrimSpace(s))]
	return f, ok
}

// FormatOf 依据文件扩展名判定格式。
func FormatOf(path string) (Format, bool) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", false
	}
	return ParseFormat(ext)
}

// Accepted 报告格式是否在受理集合内。
func (f Format) Accepted() bool { return accepted[f] }

// NeedsConversion: 受理但不在通用集合内的格式。
func (f Format) NeedsConversion() bool { return accepted[f] && !universal[f] }

// MIME 返回 image/<f>。
func (f Format) MIME() string { return "image/" + string(f) }

// AcceptedFormats 返回受理格式列表（固定顺序）。
func AcceptedFormats() []Format {
	return []Format{FormatJPEG, FormatPNG, FormatGIF, FormatBMP, FormatTIFF, FormatWEBP}
}

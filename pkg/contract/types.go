package contract

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Target: 一次运行中的单个输入条目（本地文件或 URL）。
// Path 为空表示尚未落地（URL 未下载）。
type Target struct {
	// Origin: 用户给出的原始条目（路径或 URL）。
	Origin string
	// Format: 规范化格式名；未知时为空。
	Format Format
	// Path: 本地可读图像路径。
	Path string
	// Index: 在输入列表中的序号（从 1 开始），用于 URL 下载命名。
	Index int
	// Source: URL 条目的来源地址；本地文件为空。
	Source string
}

// Local 报告条目是否已有本地文件。
func (t Target) Local() bool { return t.Path != "" }

// Result: 服务返回的结构化结果，JSON 原生值树（map/[]any/string/float64/bool/nil）。
type Result map[string]any

// Artifacts: 某图像在某服务下的输出文件路径。
type Artifacts struct {
	Text string
	JSON string
}

// ArtifactsFor 计算 <dir>/<stem>.<service>.{txt,json}。
// dir 为空时写在图像旁边。
func ArtifactsFor(dir, image, service string) Artifacts {
	if dir == "" {
		dir = filepath.Dir(image)
	}
	stem := Stem(image)
	return Artifacts{
		Text: filepath.Join(dir, fmt.Sprintf("%s.%s.txt", stem, service)),
		JSON: filepath.Join(dir, fmt.Sprintf("%s.%s.json", stem, service)),
	}
}

// Stem 返回去掉目录与最后一个扩展名的文件名。
func Stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ShortcutContent 生成 URL 旁注文件内容（Windows Internet Shortcut 格式）。
func ShortcutContent(url string) string {
	return "[InternetShortcut]\nURL=" + url + "\n"
}

// LooksLikeURL: 以 http/https/ftp 方案开头即视为 URL。
func LooksLikeURL(s string) bool {
	l := strings.ToLower(s)
	for _, p := range []string{"http://", "https://", "ftp://"} {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}

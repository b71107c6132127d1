package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"handprint/plugins/provider/google"
)

// DefaultTemplateConfig 返回一个可直接编辑的配置模板：
// - 组件名采用仓库内置实现；
// - 每个真实服务列出全部 options 键，值为中性默认；
// - 限额为 0（不限流）。
func DefaultTemplateConfig() Config {
	d := Defaults()
	return Config{
		Method:     MethodAll,
		CredsDir:   "creds",
		Logging:    d.Logging,
		Components: d.Components,
		Resolver: map[string]any{
			"recursive":         true,
			"exclude_dir_names": []string{".git"},
			"exclude":           []string{},
		},
		Fetcher: map[string]any{
			"timeout_seconds": 60,
			"user_agent":      "",
			"max_redirects":   10,
		},
		Converter: map[string]any{
			"quality":       95,
			"max_dimension": 0,
		},
		Writer: map[string]any{
			"atomic":    true,
			"perm_file": 0,
			"perm_dir":  0,
		},
		Provider: map[string]Provider{
			"google": {Options: map[string]any{
				"endpoint":        "",
				"features":        google.DefaultFeatures,
				"language_hints":  []string{"en-t-i0-handwrit"},
				"max_bytes":       20 << 20,
				"timeout_seconds": 60,
			}},
			"microsoft": {Options: map[string]any{
				"language":         "",
				"poll_interval_ms": 1000,
				"max_polls":        60,
				"max_bytes":        4 << 20,
				"timeout_seconds":  60,
			}},
			"gemini": {Options: map[string]any{
				"model":       "",
				"prompt":      "",
				"prompt_path": "",
				"base_url":    "",
				"max_bytes":   20 << 20,
			}},
			"openai": {Options: map[string]any{
				"model":       "",
				"prompt":      "",
				"prompt_path": "",
				"detail":      "high",
				"base_url":    "",
				"max_bytes":   20 << 20,
			}},
		},
	}
}

// WriteTemplate 在 dir 下生成 handprint.json 与 .env；已存在的文件跳过，不覆盖。
// 返回实际写出的文件路径。
func WriteTemplate(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	b, err := json.MarshalIndent(DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return nil, err
	}
	var wrote []string
	for _, f := range []struct {
		name string
		data []byte
	}{
		{DefaultConfigFile, append(b, '\n')},
		{".env", []byte(dotEnvTemplate())},
	} {
		p := filepath.Join(dir, f.name)
		ok, err := createExclusive(p, f.data)
		if err != nil {
			return wrote, err
		}
		if ok {
			wrote = append(wrote, p)
		}
	}
	return wrote, nil
}

func createExclusive(path string, data []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return false, err
	}
	return true, f.Close()
}

func dotEnvTemplate() string {
	var b strings.Builder
	b.WriteString("# handprint .env 模板（由 --init-config 生成）\n")
	b.WriteString("# 优先级：CLI > ENV(.env) > handprint.json；.env 不覆盖已有环境变量。\n")
	b.WriteString("# 空值表示未设置。\n\n")
	b.WriteString("HANDPRINT_METHOD=\n")
	b.WriteString("HANDPRINT_CREDS_DIR=\n")
	b.WriteString("HANDPRINT_OUTPUT=\n")
	b.WriteString("HANDPRINT_QUIET=\n")
	b.WriteString("HANDPRINT_NO_COLOR=\n")
	b.WriteString("HANDPRINT_LOGGING_LEVEL=\n")
	b.WriteString("HANDPRINT_METRICS_FILE=\n\n")
	b.WriteString("# 限流（每分钟请求数；0 为不限）\n")
	for _, name := range []string{"google", "microsoft", "gemini", "openai"} {
		b.WriteString("HANDPRINT_PROVIDER_" + strings.ToUpper(name) + "_LIMITS_RPM=\n")
	}
	return b.String()
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"handprint/pkg/contract"
	"handprint/pkg/registry"
)

const (
	// EnvPrefix: 环境变量前缀，键中的 "." 以 "_" 代替（HANDPRINT_LOGGING_LEVEL）。
	EnvPrefix = "HANDPRINT"
	// DefaultConfigFile: 未指定 --config 时读取（若存在）。
	DefaultConfigFile = "handprint.json"
	// MethodAll: 依 registry.Known 顺序运行全部服务。
	MethodAll = "all"
)

// Defaults 返回带有安全默认值的 Config 雏形。
func Defaults() Config {
	return Config{
		Method:   MethodAll,
		CredsDir: DefaultCredsDir(),
		Logging:  Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Resolver:  "fs",
			Fetcher:   "http",
			Converter: "raster",
			Writer:    "fs",
		},
	}
}

// DefaultCredsDir: 可执行文件所在目录下的 creds；无法定位时为 ./creds。
func DefaultCredsDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "creds"
	}
	if p, err := filepath.EvalSymlinks(exe); err == nil {
		exe = p
	}
	return filepath.Join(filepath.Dir(exe), "creds")
}

// NewViper 构造已注册默认值与 ENV 映射的 viper 实例。
// 优先级：显式 Set/绑定旗标 > ENV > 配置文件 > 默认值。
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SetDefaults 注册全部已知键，使 AutomaticEnv 能覆盖它们。
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("items", []string{})
	v.SetDefault("from_file", "")
	v.SetDefault("urls", false)
	v.SetDefault("method", d.Method)
	v.SetDefault("output", "")
	v.SetDefault("root_name", "")
	v.SetDefault("creds_dir", d.CredsDir)
	v.SetDefault("quiet", false)
	v.SetDefault("no_color", false)
	v.SetDefault("debug", false)
	v.SetDefault("metrics_file", "")
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)
	v.SetDefault("components.resolver", d.Components.Resolver)
	v.SetDefault("components.fetcher", d.Components.Fetcher)
	v.SetDefault("components.converter", d.Components.Converter)
	v.SetDefault("components.writer", d.Components.Writer)
	for _, name := range registry.Methods() {
		v.SetDefault("provider."+name+".limits.rpm", 0)
		v.SetDefault("provider."+name+".limits.burst", 0)
	}
}

// Load 读取配置文件（path 为空时尝试 DefaultConfigFile）并解码为 Config。
func Load(v *viper.Viper, path string) (Config, error) {
	var cfg Config
	if path == "" {
		if st, err := os.Stat(DefaultConfigFile); err == nil && !st.IsDir() {
			path = DefaultConfigFile
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var nf viper.ConfigFileNotFoundError
			if errors.As(err, &nf) || errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("%w: config file not found: %s", contract.ErrInvalidInput, path)
			}
			return cfg, fmt.Errorf("%w: read config %s: %v", contract.ErrInvalidInput, path, err)
		}
	}
	if err := v.UnmarshalExact(&cfg); err != nil {
		return cfg, fmt.Errorf("%w: decode config: %v", contract.ErrInvalidInput, err)
	}
	cfg.Method = strings.ToLower(strings.TrimSpace(cfg.Method))
	cfg.Logging.Level = strings.TrimSpace(cfg.Logging.Level)
	return cfg, nil
}

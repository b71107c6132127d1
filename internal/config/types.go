package config

// Config: 运行期只读配置（一次解析，运行期不变）。
// 键使用 snake_case；配置文件中的未知顶层键在解析期失败。
type Config struct {
	// Items: 位置参数（路径/目录/URL）。
	Items    []string `mapstructure:"items" json:"items,omitempty"`
	FromFile string   `mapstructure:"from_file" json:"from_file,omitempty"`
	URLs     bool     `mapstructure:"urls" json:"urls"`
	// Method: 服务名或 "all"。
	Method   string `mapstructure:"method" json:"method"`
	Output   string `mapstructure:"output" json:"output"`
	RootName string `mapstructure:"root_name" json:"root_name"`
	CredsDir string `mapstructure:"creds_dir" json:"creds_dir"`

	Quiet       bool    `mapstructure:"quiet" json:"quiet"`
	NoColor     bool    `mapstructure:"no_color" json:"no_color"`
	Debug       bool    `mapstructure:"debug" json:"debug"`
	MetricsFile string  `mapstructure:"metrics_file" json:"metrics_file"`
	Logging     Logging `mapstructure:"logging" json:"logging"`

	// 组件名选择（空则使用默认名）。
	Components Components `mapstructure:"components" json:"components"`

	// 各组件 Options 子树，原样传入工厂。
	Resolver  map[string]any `mapstructure:"resolver" json:"resolver"`
	Fetcher   map[string]any `mapstructure:"fetcher" json:"fetcher"`
	Converter map[string]any `mapstructure:"converter" json:"converter"`
	Writer    map[string]any `mapstructure:"writer" json:"writer"`

	// 服务定义（按服务名）。
	Provider map[string]Provider `mapstructure:"provider" json:"provider"`
}

// Logging: 日志等级与目录；轮转策略为固定默认。
type Logging struct {
	Level string `mapstructure:"level" json:"level"`
	Dir   string `mapstructure:"dir" json:"dir"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Resolver  string `mapstructure:"resolver" json:"resolver"`
	Fetcher   string `mapstructure:"fetcher" json:"fetcher"`
	Converter string `mapstructure:"converter" json:"converter"`
	Writer    string `mapstructure:"writer" json:"writer"`
}

// Provider: 服务 options + 限额。
type Provider struct {
	Options map[string]any `mapstructure:"options" json:"options"`
	Limits  Limits         `mapstructure:"limits" json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM   int `mapstructure:"rpm" json:"rpm"`
	Burst int `mapstructure:"burst" json:"burst"`
}

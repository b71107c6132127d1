package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	cfgpkg "handprint/internal/config"
	"handprint/internal/diag"
	"handprint/internal/pipeline"
	"handprint/pkg/contract"
	"handprint/pkg/registry"
)

var (
	pipelineRun = pipeline.Run

	version = "dev"

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// 退出码：0 成功（含单项失败与用户取消）；1 服务失败或运行期错误；3 输入/配置错误。
const (
	exitOK      = 0
	exitFailure = 1
	exitInput   = 3
)

const hint = "(Hint: use -h for help.)"

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	code := exitOK
	cmd := newRootCmd(&code)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		// 旗标解析错误
		fprintf(stderr, "Error: %v %s\n", err, hint)
		return exitInput
	}
	return code
}

type flags struct {
	config     string
	initConfig string
	list       bool
	version    bool
}

func newRootCmd(code *int) *cobra.Command {
	v := cfgpkg.NewViper()
	var f flags
	cmd := &cobra.Command{
		Use:   "handprint [flags] [IMAGE|DIR|URL ...]",
		Short: "Send page images to OCR/HTR services and save their results",
		Long: `handprint sends images of document pages to several OCR/HTR services and
writes, for each image X and service P, the extracted text to X.P.txt and the
complete service response to X.P.json (next to the image, or in --output).

With --urls the arguments are URLs; images are downloaded into --output as
<root>-<n>.<format> together with a <root>-<n>.url shortcut file.`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			*code = run(cmd.Context(), v, f, args)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringP("creds-dir", "c", "", "directory containing <service>_credentials.json files")
	fl.StringP("from-file", "f", "", `read images or URLs from file F, one per line ("-" for stdin)`)
	fl.BoolVarP(&f.list, "list", "l", false, "list known methods and exit")
	fl.StringP("method", "m", "", `use method M (default "all")`)
	fl.StringP("output", "o", "", "write results (and downloads) to directory O")
	fl.StringP("root-name", "r", "", `name downloaded images using root name R (default "document")`)
	fl.BoolP("urls", "u", false, "treat arguments as URLs")
	fl.BoolP("quiet", "q", false, "only print warnings and errors")
	fl.BoolP("no-color", "C", false, "do not color-code terminal output")
	fl.BoolP("debug", "D", false, "debug logging")
	fl.BoolVarP(&f.version, "version", "V", false, "print version info and exit")
	fl.StringVar(&f.config, "config", "", "config file (default ./handprint.json if present)")
	fl.StringVar(&f.initConfig, "init-config", "", "write handprint.json and .env templates into DIR and exit")
	fl.String("metrics-file", "", "write Prometheus metrics to this file at exit")
	fl.String("log-level", "", "log level: debug|info|warn|error")

	bindFlags(v, fl)
	return cmd
}

// bindFlags 把影响配置的标志绑定到 viper 键；仅显式给出的标志覆盖其它来源。
func bindFlags(v *viper.Viper, fl *pflag.FlagSet) {
	for key, name := range map[string]string{
		"creds_dir":     "creds-dir",
		"from_file":     "from-file",
		"method":        "method",
		"output":        "output",
		"root_name":     "root-name",
		"urls":          "urls",
		"quiet":         "quiet",
		"no_color":      "no-color",
		"debug":         "debug",
		"metrics_file":  "metrics-file",
		"logging.level": "log-level",
	} {
		_ = v.BindPFlag(key, fl.Lookup(name))
	}
}

func run(ctx context.Context, v *viper.Viper, f flags, args []string) int {
	start := time.Now()
	if f.version {
		fprintf(stdout, "handprint version %s\n", version)
		return exitOK
	}
	if f.list {
		fprintf(stdout, "Known methods:\n")
		for _, m := range registry.Methods() {
			fprintf(stdout, "   %s\n", m)
		}
		return exitOK
	}
	if dir := strings.TrimSpace(f.initConfig); dir != "" {
		wrote, err := cfgpkg.WriteTemplate(dir)
		if err != nil {
			fprintf(stderr, "Error: cannot write config templates: %v\n", err)
			return exitInput
		}
		for _, p := range wrote {
			fprintf(stdout, "Wrote %s\n", p)
		}
		return exitOK
	}

	// 在读取 ENV 前加载 .env（不覆盖已有 ENV）
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fprintf(stderr, "Warning: .env ignored: %v\n", err)
	}
	if len(args) > 0 {
		v.Set("items", args)
	}
	cfg, err := cfgpkg.Load(v, f.config)
	if err != nil {
		fprintf(stderr, "Error: %v\n", err)
		return exitInput
	}

	term := diag.NewTerminal(stderr, diag.TermOptions{Quiet: cfg.Quiet, NoColor: cfg.NoColor})
	level := cfg.Logging.Level
	if cfg.Debug {
		level = "debug"
	}
	logger := diag.NewLogger(cfg.Logging.Dir, uuid.NewString(), level)
	defer func() { _ = logger.Close() }()
	if cfg.MetricsFile != "" {
		defer func() {
			if err := diag.WriteMetrics(cfg.MetricsFile); err != nil {
				term.Warn("cannot write metrics: %v", err)
			}
		}()
	}

	fail := func(code int, err error) int {
		logger.Error("cli", diag.Classify(err), err.Error(), &start)
		return code
	}

	if err := cfgpkg.Validate(cfg); err != nil {
		term.Error("%v %s", err, hint)
		return fail(exitInput, err)
	}
	if err := preflight(&cfg); err != nil {
		term.Error("%v", err)
		return fail(exitInput, err)
	}
	as, err := cfgpkg.Assemble(cfg)
	if err != nil {
		term.Error("%v", err)
		return fail(exitInput, err)
	}
	logger.DebugStart("config", "effective", "", "", map[string]string{
		"method":      cfg.Method,
		"methods":     strings.Join(cfgpkg.Methods(cfg), ","),
		"items_count": fmt.Sprint(len(cfg.Items)),
		"from_file":   cfg.FromFile,
		"urls":        fmt.Sprint(cfg.URLs),
		"output":      cfg.Output,
		"creds_dir":   cfg.CredsDir,
		"configured":  strings.Join(cfgpkg.ProviderNames(cfg), ","),
	})

	in := contract.ResolveInput{Items: cfg.Items, FromFile: cfg.FromFile, URLMode: cfg.URLs}
	targets, err := as.Resolver.Resolve(ctx, in, func(msg string) {
		term.Warn("%s", msg)
		logger.Warn("resolver", msg, "", "")
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			term.Info("Quitting.")
			return exitOK
		}
		term.Error("%v", err)
		return fail(exitInput, err)
	}
	if len(targets) == 0 {
		term.Warn("No images to process; quitting.")
		return exitInput
	}

	comp := as.Components
	comp.Messenger = term
	set := as.Settings
	set.Targets = targets
	if cfg.Method == cfgpkg.MethodAll {
		term.Info("Applying all methods in succession.")
	}

	t := logger.Start("pipeline", "run")
	err = safeRun(ctx, comp, set, logger)
	switch {
	case err == nil:
		t.Finish("run", int64(len(targets)))
		term.Info("Done.")
		return exitOK
	case errors.Is(err, context.Canceled):
		logger.Warn("pipeline", "cancelled", "", "")
		term.Info("Quitting.")
		return exitOK
	case contract.IsServiceFailure(err), errors.Is(err, contract.ErrOutputUnwritable):
		term.Error("%v", err)
		return fail(exitFailure, err)
	default:
		var pe *panicError
		if errors.As(err, &pe) {
			term.Error("%v", pe.val)
		} else {
			term.Error("%v", err)
		}
		diagnose(stderr, err)
		return fail(exitFailure, err)
	}
}

type panicError struct {
	val   any
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.val) }

// safeRun 执行流水线并把 panic 转为错误（保留堆栈）。
func safeRun(ctx context.Context, comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{val: r, stack: debug.Stack()}
		}
	}()
	return pipelineRun(ctx, comp, set, logger)
}

// diagnose 打印未分类错误的诊断信息：逐层错误链，panic 时附恢复点堆栈。
func diagnose(w io.Writer, err error) {
	fprintf(w, "Details:\n")
	var walk func(e error, depth int)
	walk = func(e error, depth int) {
		for e != nil {
			fprintf(w, "%s%T: %v\n", strings.Repeat("  ", depth+1), e, e)
			switch u := e.(type) {
			case interface{ Unwrap() []error }:
				for _, c := range u.Unwrap() {
					walk(c, depth+1)
				}
				return
			case interface{ Unwrap() error }:
				e = u.Unwrap()
			default:
				return
			}
		}
	}
	walk(err, 0)
	var pe *panicError
	if errors.As(err, &pe) {
		fprintf(w, "Traceback:\n%s\n", pe.stack)
	}
}

// preflight 检查文件系统前置条件；输出目录不存在时创建。路径归一为绝对路径。
func preflight(cfg *cfgpkg.Config) error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", contract.ErrInvalidInput, fmt.Sprintf(format, args...))
	}
	if ff := strings.TrimSpace(cfg.FromFile); ff != "" && ff != "-" {
		abs, err := filepath.Abs(ff)
		if err != nil {
			return bad("file not found: %s", ff)
		}
		fh, err := os.Open(abs)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return bad("file not found: %s", abs)
			}
			return bad("file not readable: %s", abs)
		}
		_ = fh.Close()
		cfg.FromFile = abs
	}

	if _, err := os.ReadDir(cfg.CredsDir); err != nil {
		return bad("directory not readable: %s", cfg.CredsDir)
	}

	if out := strings.TrimSpace(cfg.Output); out != "" {
		abs, err := filepath.Abs(out)
		if err != nil {
			return bad("invalid output directory: %s", out)
		}
		st, err := os.Stat(abs)
		switch {
		case err == nil && !st.IsDir():
			return bad("not a directory: %s", abs)
		case err == nil:
			probe, perr := os.CreateTemp(abs, ".wcheck-*")
			if perr != nil {
				return fmt.Errorf("%w: %s", contract.ErrOutputUnwritable, abs)
			}
			name := probe.Name()
			_ = probe.Close()
			_ = os.Remove(name)
		case errors.Is(err, os.ErrNotExist):
			if err := os.MkdirAll(abs, 0o755); err != nil {
				return fmt.Errorf("%w: cannot create %s: %v", contract.ErrOutputUnwritable, abs, err)
			}
		default:
			return bad("cannot access %s: %v", abs, err)
		}
		cfg.Output = abs
	}
	return nil
}

func fprintf(w io.Writer, format string, a ...any) { _, _ = fmt.Fprintf(w, format, a...) }

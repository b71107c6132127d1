package filesystem

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"handprint/pkg/contract"
)

// Options 为 FileSystem Resolver 的可选配置（最小必要）。
type Options struct {
	// Recursive: 目录是否递归展开；默认 true。
	Recursive *bool `json:"recursive,omitempty"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名，大小写不敏感）。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// Exclude: doublestar 模式；与相对目录根的斜杠路径或基名匹配即跳过。
	Exclude []string `json:"exclude"`
}

// FileSystem 把命令行条目展开为图像文件列表。
type FileSystem struct {
	recursive  bool
	excludeDir map[string]struct{}
	exclude    []string
	stdin      io.Reader
}

// New 创建 FileSystem Resolver；非法的排除模式返回错误。
func New(opts *Options) (*FileSystem, error) {
	r := &FileSystem{recursive: true, excludeDir: map[string]struct{}{}, stdin: os.Stdin}
	if opts == nil {
		return r, nil
	}
	if opts.Recursive != nil {
		r.recursive = *opts.Recursive
	}
	for _, name := range opts.ExcludeDirNames {
		if name = strings.Trim(name, `/\ `); name != "" {
			r.excludeDir[strings.ToLower(name)] = struct{}{}
		}
	}
	for _, p := range opts.Exclude {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("%w: bad exclude pattern %q", contract.ErrInvalidInput, p)
		}
		r.exclude = append(r.exclude, p)
	}
	return r, nil
}

var _ contract.Resolver = (*FileSystem)(nil)

// Resolve 展开条目，保持输入顺序并去重。
// 非 URL 模式下，URL、缺失路径与不受理的文件逐条经 warn 报告后跳过。
func (r *FileSystem) Resolve(ctx context.Context, in contract.ResolveInput, warn func(string)) ([]string, error) {
	if warn == nil {
		warn = func(string) {}
	}
	items := in.Items
	if in.FromFile != "" {
		lines, err := r.readLines(in.FromFile)
		if err != nil {
			return nil, err
		}
		items = lines
	}

	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(item) == "" {
			continue
		}
		if in.URLMode {
			add(item)
			continue
		}
		if contract.LooksLikeURL(item) {
			warn(fmt.Sprintf("Unexpected URL: %q (use --urls to process URLs)", item))
			continue
		}
		if err := r.expand(ctx, item, add, warn); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// readLines: "-" 表示 STDIN；空行忽略。
func (r *FileSystem) readLines(src string) ([]string, error) {
	var rd io.Reader
	if src == "-" {
		rd = r.stdin
	} else {
		f, err := os.Open(src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", contract.ErrInvalidInput, err)
		}
		defer f.Close()
		rd = f
	}
	var lines []string
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	// 行内容原样保留，仅去掉行尾换行；空白行忽略
	for sc.Scan() {
		s := strings.TrimRight(sc.Text(), "\r\n")
		if strings.TrimSpace(s) != "" {
			lines = append(lines, s)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", contract.ErrInvalidInput, src, err)
	}
	return lines, nil
}

func (r *FileSystem) expand(ctx context.Context, item string, add func(string), warn func(string)) error {
	p := filepath.Clean(item)
	// 顶层条目跟随符号链接
	info, err := os.Stat(p)
	if err != nil {
		warn(fmt.Sprintf("%q is not a file or directory; skipping", item))
		return nil
	}
	switch {
	case info.IsDir():
		return r.walkDir(ctx, p, p, add)
	case info.Mode().IsRegular():
		if r.excluded(filepath.Dir(p), p) {
			return nil
		}
		if f, ok := contract.FormatOf(p); !ok || !f.Accepted() {
			warn(fmt.Sprintf("%q is not an accepted image format; skipping", item))
			return nil
		}
		add(p)
	default:
		warn(fmt.Sprintf("%q is not a file or directory; skipping", item))
	}
	return nil
}

// walkDir: 字典序；先目录后文件；目录符号链接不跟随。
func (r *FileSystem) walkDir(ctx context.Context, root, dir string, add func(string)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if r.recursive {
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
				continue
			}
			sub := filepath.Join(dir, e.Name())
			if r.excluded(root, sub) {
				continue
			}
			if err := r.walkDir(ctx, root, sub, add); err != nil {
				return err
			}
		}
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if e.Type()&os.ModeSymlink != 0 {
			t, err := os.Stat(p)
			if err != nil || !t.Mode().IsRegular() {
				continue
			}
		} else if !e.Type().IsRegular() {
			continue
		}
		if f, ok := contract.FormatOf(p); !ok || !f.Accepted() {
			continue
		}
		if r.excluded(root, p) {
			continue
		}
		add(p)
	}
	return nil
}

func (r *FileSystem) excluded(root, p string) bool {
	if len(r.exclude) == 0 {
		return false
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		rel = p
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(p)
	for _, pat := range r.exclude {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pat, base); ok {
			return true
		}
	}
	return false
}

package diag

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// TermOptions 控制终端提示的输出级别与着色。
type TermOptions struct {
	Quiet   bool // 仅保留 Warn/Error/Fatal/Fail
	NoColor bool
}

// Terminal: 终端信息提示（非日志），实现 contract.Messenger。
// - 输出到提供的 io.Writer（默认 stderr）。
// - TTY: 进度单行 \r 覆盖；非 TTY: 每个节点单独一行。
// - 并发安全；写失败后进入禁用态为 no-op。
type Terminal struct {
	w       io.Writer
	enabled bool
	isTTY   bool
	quiet   bool

	info lipgloss.Style
	warn lipgloss.Style
	fail lipgloss.Style
	ok   lipgloss.Style
	dim  lipgloss.Style

	cur     string
	lastLen int

	mu sync.Mutex
}

// NewTerminal 构造终端提示器。
func NewTerminal(w io.Writer, opts TermOptions) *Terminal {
	if w == nil {
		w = os.Stderr
	}
	t := &Terminal{w: w, enabled: true, quiet: opts.Quiet}
	// CI 环境视为非 TTY
	if os.Getenv("CI") == "" {
		if f, ok := w.(*os.File); ok {
			t.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
	}
	r := lipgloss.NewRenderer(w)
	plain := r.NewStyle()
	t.info, t.warn, t.fail, t.ok, t.dim = plain, plain, plain, plain, plain
	if !opts.NoColor && t.isTTY {
		t.warn = r.NewStyle().Foreground(lipgloss.Color("214"))
		t.fail = r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
		t.ok = r.NewStyle().Foreground(lipgloss.Color("10"))
		t.dim = r.NewStyle().Foreground(lipgloss.Color("8"))
	}
	return t
}

// IsTTY 报告是否按交互终端输出。
func (t *Terminal) IsTTY() bool { return t != nil && t.isTTY }

func (t *Terminal) Info(format string, args ...any) {
	if t == nil || t.quiet {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.println(t.info.Render(safe(fmt.Sprintf(format, args...))))
}

func (t *Terminal) Warn(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.println(t.warn.Render("Warning: " + safe(fmt.Sprintf(format, args...))))
}

func (t *Terminal) Error(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.println(t.fail.Render("Error: " + safe(fmt.Sprintf(format, args...))))
}

// Fatal 仅输出；退出由调用方决定。
func (t *Terminal) Fatal(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.println(t.fail.Render("Fatal: " + safe(fmt.Sprintf(format, args...))))
}

// Start 开始一个进度项。
func (t *Terminal) Start(msg string) {
	if t == nil || t.quiet {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cur = safe(msg)
	if t.isTTY {
		t.printInline(t.dim.Render("… ") + t.cur)
		return
	}
	t.println(t.cur)
}

// Update 推进当前进度项；TTY 下先将上一节点标记完成。
func (t *Terminal) Update(msg string) {
	if t == nil || t.quiet {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.isTTY {
		if t.cur != "" {
			t.clearInline()
			t.println(t.ok.Render("✓ ") + t.cur)
		}
		t.cur = safe(msg)
		t.printInline(t.dim.Render("… ") + t.cur)
		return
	}
	t.cur = safe(msg)
	t.println(t.cur)
}

// Stop 以成功结束当前进度项。
func (t *Terminal) Stop(msg string) {
	if t == nil || t.quiet {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	if t.isTTY && t.cur != "" {
		t.println(t.ok.Render("✓ ") + t.cur)
	}
	t.cur = ""
	t.println(t.ok.Render(safe(msg)))
}

// Fail 以失败结束当前进度项；quiet 下仍输出。
func (t *Terminal) Fail(msg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.cur = ""
	t.println(t.fail.Render("✗ " + safe(msg)))
}

// Separator 分隔不同服务的输出块。
func (t *Terminal) Separator() {
	if t == nil || t.quiet {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearInline()
	t.println(t.dim.Render(strings.Repeat("─", 70)))
}

// 内部输出工具
func (t *Terminal) println(s string) {
	if !t.enabled {
		return
	}
	if _, err := io.WriteString(t.w, s+"\n"); err != nil {
		// 写失败即禁用
		t.enabled = false
	}
	t.lastLen = 0
}

func (t *Terminal) clearInline() {
	if t.isTTY && t.lastLen > 0 {
		t.printInline("")
		if t.enabled {
			_, _ = io.WriteString(t.w, "\r")
		}
		t.lastLen = 0
	}
}

func (t *Terminal) printInline(s string) {
	if !t.enabled {
		return
	}
	// 清尾：若新行比旧短，填充空格覆盖
	pad := 0
	if l := visLen(s); t.lastLen > l {
		pad = t.lastLen - l
	}
	var b strings.Builder
	b.WriteByte('\r')
	b.WriteString(s)
	if pad > 0 {
		b.WriteString(strings.Repeat(" ", pad))
	}
	if _, err := io.WriteString(t.w, b.String()); err != nil {
		t.enabled = false
		return
	}
	t.lastLen = visLen(s)
}

// ShortenBase: 取基名并按可见宽度截断（尾部省略号）。
func ShortenBase(s string, max int) string {
	if max <= 0 {
		return ""
	}
	base := filepath.Base(strings.TrimSpace(s))
	if base == "" {
		return ""
	}
	if visLen(base) <= max {
		return base
	}
	cut := max - 1
	if cut < 1 {
		cut = 1
	}
	rs := []rune(base)
	if len(rs) <= cut {
		return string(rs)
	}
	return string(rs[:cut]) + "…"
}

// visLen 忽略 ANSI 序列的可见宽度。
func visLen(s string) int { return lipgloss.Width(s) }

func safe(s string) string {
	// 避免换行等控制字符污染终端
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return s
}

// FormatDur: <1s 显示毫秒，否则保留 1 位小数的秒。
func FormatDur(d time.Duration) string {
	if d < time.Second {
		ms := d.Milliseconds()
		if ms <= 0 {
			ms = 0
		}
		return fmt.Sprintf("%dms", ms)
	}
	s := float64(d.Milliseconds()) / 1000.0
	return fmt.Sprintf("%.1fs", s)
}

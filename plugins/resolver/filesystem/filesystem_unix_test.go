//go:build !windows

package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"handprint/pkg/contract"
)

// 非常规文件（fifo）被忽略。
func TestWalkDirNonRegular(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, syscall.Mkfifo(filepath.Join(root, "fifo.png"), 0o644))
	r, _ := New(nil)
	got, err := r.Resolve(context.Background(), contract.ResolveInput{Items: []string{root}}, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// 目录内：文件符号链接保留，目录符号链接不跟随。
func TestWalkDirSymlinks(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	touch(t, filepath.Join(other, "real.png"))
	touch(t, filepath.Join(other, "inner", "deep.png"))
	require.NoError(t, os.Symlink(filepath.Join(other, "real.png"), filepath.Join(root, "l.png")))
	require.NoError(t, os.Symlink(filepath.Join(other, "inner"), filepath.Join(root, "ln")))

	r, _ := New(nil)
	got, err := r.Resolve(context.Background(), contract.ResolveInput{Items: []string{root}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "l.png")}, got)

	// 顶层目录符号链接会被跟随
	got, err = r.Resolve(context.Background(), contract.ResolveInput{Items: []string{filepath.Join(root, "ln")}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "ln", "deep.png")}, got)
}

package stress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "handprint/internal/config"
	"handprint/internal/pipeline"
	"handprint/pkg/contract"
	"handprint/plugins/provider/mock"
)

// baseConfig 构造可运行的最小配置。
func baseConfig(t *testing.T, dir string) cfgpkg.Config {
	cfg := cfgpkg.Defaults()
	cfg.Items = []string{dir}
	cfg.Method = "mock"
	cfg.CredsDir = t.TempDir()
	cfg.Logging.Level = "error"
	return cfg
}

// writeImages 在 dir 下写出 n 张 PNG（内容相同，名字不同）。
func writeImages(t *testing.T, dir string, n int) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 64, 64))))
	for i := 0; i < n; i++ {
		p := filepath.Join(dir, fmt.Sprintf("page-%04d.png", i))
		require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	}
}

// runOnce 执行一次完整流水线，返回耗时与 mock 实际提取次数。
func runOnce(t *testing.T, cfg cfgpkg.Config) (time.Duration, int, pipeline.Summary) {
	as, err := cfgpkg.Assemble(cfg)
	require.NoError(t, err)
	targets, err := as.Resolver.Resolve(context.Background(),
		contract.ResolveInput{Items: cfg.Items}, nil)
	require.NoError(t, err)

	client := mock.New(nil)
	comp := as.Components
	comp.Providers = []pipeline.ProviderFactory{{
		Name: "mock",
		New:  func() (contract.Provider, error) { return client, nil },
	}}
	set := as.Settings
	set.Targets = targets

	start := time.Now()
	sums, err := pipeline.Execute(context.Background(), comp, set, nil)
	dur := time.Since(start)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	return dur, client.Calls(), sums[0]
}

// TestStress 在不同批量下运行流水线并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	for _, n := range []int{10, 100, 500} {
		t.Run(fmt.Sprintf("images_%d", n), func(t *testing.T) {
			const runs = 5
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				dir := t.TempDir()
				writeImages(t, dir, n)
				dur, calls, sum := runOnce(t, baseConfig(t, dir))
				if calls != n {
					t.Fatalf("run %d: %d extractions for %d images", i, calls, n)
				}
				if sum.Done != n || sum.Failed != 0 {
					t.Fatalf("run %d: done=%d failed=%d", i, sum.Done, sum.Failed)
				}
				latencies = append(latencies, dur)
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := int(math.Ceil(float64(len(latencies))*0.95)) - 1
			if idx < 0 {
				idx = 0
			}
			t.Logf("批量%d 平均%v 95%%延迟%v 单张%v", n, avg, latencies[idx], avg/time.Duration(n))
		})
	}
}

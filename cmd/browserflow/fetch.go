package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow"
	"github.com/BaSui01/browserflow/internal/pool"
)

// =============================================================================
// 🌍 fetch 命令
// =============================================================================

// fetchLine 是 --json 模式下每个 URL 的输出
type fetchLine struct {
	*browserflow.FetchResult
	URL   string `json:"url"`
	Error string `json:"error,omitempty"`
}

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	sessionName := fs.String("session", "", "Session to restore before and save after each fetch")
	concurrency := fs.Int("concurrency", 4, "Pages fetched in parallel")
	asJSON := fs.Bool("json", false, "Print one JSON result per line")
	if err := fs.Parse(args); err != nil {
		return err
	}
	urls := fs.Args()
	if len(urls) == 0 {
		return fmt.Errorf("usage: browserflow fetch [options] <url> [url...]")
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	// stdout 只输出页面内容
	cfg.Log.OutputPaths = []string{"stderr"}
	logger, _ := initLogger(cfg.Log)
	defer logger.Sync()

	ctx, cancel := signalContext()
	defer cancel()

	app, err := browserflow.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close(context.WithoutCancel(ctx))

	failed := fetchAll(ctx, app, urls, fetchConfig{
		session:     *sessionName,
		concurrency: *concurrency,
		json:        *asJSON,
	}, os.Stdout, os.Stderr, logger)
	if failed > 0 {
		return fmt.Errorf("%d of %d fetches failed", failed, len(urls))
	}
	return nil
}

type fetchConfig struct {
	session     string
	concurrency int
	json        bool
}

// fetcher 是 fetchAll 依赖的 App 能力
type fetcher interface {
	Fetch(ctx context.Context, url string, opts browserflow.FetchOptions) (*browserflow.FetchResult, error)
}

// fetchAll 在有界 goroutine 池上抓取全部 URL，按输入顺序输出，返回失败数
func fetchAll(ctx context.Context, app fetcher, urls []string, fc fetchConfig, stdout, stderr io.Writer, logger *zap.Logger) int {
	workers := pool.DefaultGoroutinePoolConfig()
	if fc.concurrency > 0 {
		workers.MaxWorkers = fc.concurrency
	}
	workers.QueueSize = max(workers.QueueSize, len(urls))
	p := pool.NewGoroutinePool(workers, logger)
	defer p.Close()

	results := make([]*browserflow.FetchResult, len(urls))
	var mu sync.Mutex
	tasks := make([]pool.Task, len(urls))
	for i, u := range urls {
		tasks[i] = func(ctx context.Context) error {
			res, err := app.Fetch(ctx, u, browserflow.FetchOptions{Session: fc.session})
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return err
		}
	}
	errs := p.RunAll(ctx, tasks)

	failed := 0
	enc := json.NewEncoder(stdout)
	for i, u := range urls {
		if errs[i] != nil {
			failed++
		}
		if fc.json {
			line := fetchLine{FetchResult: results[i], URL: u}
			if errs[i] != nil {
				line.Error = errs[i].Error()
			}
			_ = enc.Encode(line)
			continue
		}
		if errs[i] != nil {
			fmt.Fprintf(stderr, "%s: %v\n", u, errs[i])
			continue
		}
		fmt.Fprintln(stdout, results[i].Content)
	}
	return failed
}

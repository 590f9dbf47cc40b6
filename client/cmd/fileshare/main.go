package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fileshare/fileshare/client/internal/client"
	"github.com/fileshare/fileshare/pkg/types"
)

const usage = `usage: fileshare [flags] <command> [args]

commands:
  upload <namespace> <file|->   store a file under a new slot and print its key
  download <key> [file]         write the stored bytes to file (default stdout)
  status <key>                  print liveness, remaining seconds and owner
  renew <key>                   extend the lifetime of key
  delete <key>                  purge key
  watch <key>                   print expiry updates until the entity is purged
  health                        print the server health report
  loadtest <namespace>          upload many small payloads concurrently

flags:
`

func main() {
	server := flag.String("server", envOr("FILESHARE_SERVER", "http://localhost:8787"), "fileshare-server base URL")
	owner := flag.String("owner", "", "owner tag sent with upload")
	retries := flag.Int("retries", client.DefaultRetries, "retries for transient failures")
	timeout := flag.Duration("timeout", 30*time.Second, "per-request timeout")
	poll := flag.Duration("poll", 0, "watch: ask the server for the current expiry at this interval")
	n := flag.Int("n", 100, "loadtest: number of uploads")
	concurrency := flag.Int("c", 10, "loadtest: concurrent uploads")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	opts := client.DefaultOptions()
	opts.Retries = *retries
	opts.HTTPClient.Timeout = *timeout
	c, err := client.New(*server, opts)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := args[0], args[1:]
	switch cmd {
	case "upload":
		need(args, 2)
		err = upload(ctx, c, args[0], args[1], *owner)
	case "download":
		if len(args) < 1 || len(args) > 2 {
			flag.Usage()
			os.Exit(2)
		}
		dst := "-"
		if len(args) == 2 {
			dst = args[1]
		}
		err = download(ctx, c, args[0], dst)
	case "status":
		need(args, 1)
		var st client.Status
		if st, err = c.Status(ctx, args[0]); err == nil {
			printJSON(st)
		}
	case "renew":
		need(args, 1)
		var exp time.Time
		if exp, err = c.Renew(ctx, args[0]); err == nil {
			fmt.Printf("%s expires at %s\n", args[0], exp.Format(time.RFC3339))
		}
	case "delete":
		need(args, 1)
		if err = c.Delete(ctx, args[0]); err == nil {
			fmt.Printf("%s deleted\n", args[0])
		}
	case "watch":
		need(args, 1)
		err = watch(ctx, c, args[0], *poll)
	case "health":
		need(args, 0)
		var h client.Health
		if h, err = c.Health(ctx); err == nil {
			printJSON(h)
		}
	case "loadtest":
		need(args, 1)
		err = loadtest(ctx, c, args[0], *n, *concurrency)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func upload(ctx context.Context, c *client.Client, namespace, src, owner string) error {
	var (
		data []byte
		err  error
	)
	if src == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(src)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	up, err := c.Upload(ctx, namespace, data, owner)
	if err != nil {
		return err
	}
	printJSON(up)
	return nil
}

func download(ctx context.Context, c *client.Client, key, dst string) error {
	data, err := c.Download(ctx, key)
	if err != nil {
		return err
	}
	if dst == "-" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", dst, err)
	}
	fmt.Fprintf(os.Stderr, "wrote %d bytes to %s\n", len(data), dst)
	return nil
}

func watch(ctx context.Context, c *client.Client, key string, poll time.Duration) error {
	closed, err := c.Watch(ctx, key, client.WatchOptions{PollInterval: poll}, func(m types.Message) {
		fmt.Printf("%s expires at %s (%ds remaining)\n",
			m.Data.Key, m.Data.ExpireAt.Format(time.RFC3339), m.Data.RemainingSeconds)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	if closed.Expired() {
		fmt.Printf("%s: %s\n", key, closed.Reason)
		return nil
	}
	return fmt.Errorf("watch closed by server: %d %s", closed.Code, closed.Reason)
}

// loadtest uploads n payloads with bounded concurrency and reports duplicate
// keys, which would mean two uploads were given the same slot.
func loadtest(ctx context.Context, c *client.Client, namespace string, n, concurrency int) error {
	if n <= 0 || concurrency <= 0 {
		return fmt.Errorf("loadtest: -n and -c must be positive")
	}

	var (
		mu     sync.Mutex
		keys   = make(map[string]int, n)
		failed int
	)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := 0; i < n; i++ {
		payload := []byte(fmt.Sprintf("loadtest payload %d", i))
		g.Go(func() error {
			up, err := c.Upload(gctx, namespace, payload, "")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				slog.Warn("loadtest: upload failed", "err", err)
				return nil
			}
			keys[up.Key]++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var dup int
	for _, count := range keys {
		if count > 1 {
			dup += count - 1
		}
	}
	elapsed := time.Since(start)
	printJSON(map[string]interface{}{
		"uploads":         n,
		"succeeded":       n - failed,
		"failed":          failed,
		"distinct_keys":   len(keys),
		"duplicate_keys":  dup,
		"elapsed_seconds": elapsed.Seconds(),
		"uploads_per_sec": float64(n-failed) / elapsed.Seconds(),
	})
	if dup > 0 {
		return fmt.Errorf("loadtest: %d uploads shared a key", dup)
	}
	return nil
}

func need(args []string, n int) {
	if len(args) != n {
		flag.Usage()
		os.Exit(2)
	}
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v) //nolint:errcheck
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fileshare:", err)
	os.Exit(1)
}

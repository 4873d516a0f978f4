// Command ocrctl administers an ocrflow server over its HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

const usage = `Usage: ocrctl [flags] <command> [args]

Commands:
  cache stats             Show cache entry count, size and age range
  cache cleanup           Run one eviction pass
  cache clear             Remove every cache entry
  task poll <id>          Print the current task snapshot
  task watch <id>         Stream progress until the task finishes
  task cancel <id>        Request cancellation
  task resume <id>        Resume a stopped, failed or interrupted task

Flags:
`

var errUsage = errors.New("invalid usage")

type options struct {
	server   string
	clientID string
	jsonOut  bool
	args     []string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "ocrctl: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("ocrctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.server, "server", envOr("OCRFLOW_SERVER", "http://localhost:8080"), "Base URL of the ocrflow server")
	fs.StringVar(&opts.clientID, "client", os.Getenv("OCRFLOW_CLIENT_ID"), "Client id sent for rate limiting")
	fs.BoolVar(&opts.jsonOut, "json", false, "Print raw JSON responses")
	if err := fs.Parse(args); err != nil {
		return options{}, fmt.Errorf("%w: %v", errUsage, err)
	}
	opts.args = fs.Args()
	if len(opts.args) < 2 {
		fs.Usage()
		return options{}, fmt.Errorf("%w: missing command", errUsage)
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	c := newClient(opts.server, opts.clientID)
	p := printer{w: stdout, raw: opts.jsonOut}

	group, cmd, rest := opts.args[0], opts.args[1], opts.args[2:]
	switch group {
	case "cache":
		if len(rest) != 0 {
			return fmt.Errorf("%w: cache %s takes no arguments", errUsage, cmd)
		}
		return runCache(ctx, c, p, cmd)
	case "task":
		if len(rest) != 1 {
			return fmt.Errorf("%w: task %s needs exactly one task id", errUsage, cmd)
		}
		return runTask(ctx, c, p, cmd, rest[0])
	default:
		return fmt.Errorf("%w: unknown command group %q", errUsage, group)
	}
}

func runCache(ctx context.Context, c *client, p printer, cmd string) error {
	switch cmd {
	case "stats":
		var s cache.Stats
		raw, err := c.do(ctx, "GET", "/api/v1/cache/stats", &s)
		if err != nil {
			return err
		}
		return p.stats(raw, s)
	case "cleanup":
		var r cache.EvictReport
		raw, err := c.do(ctx, "POST", "/api/v1/cache/cleanup", &r)
		if err != nil {
			return err
		}
		return p.evict(raw, r)
	case "clear":
		var r struct {
			Removed int `json:"removed"`
		}
		raw, err := c.do(ctx, "DELETE", "/api/v1/cache", &r)
		if err != nil {
			return err
		}
		return p.line(raw, "removed %d entries", r.Removed)
	default:
		return fmt.Errorf("%w: unknown cache command %q", errUsage, cmd)
	}
}

func runTask(ctx context.Context, c *client, p printer, cmd, id string) error {
	switch cmd {
	case "poll":
		var s models.TaskSnapshot
		raw, err := c.do(ctx, "GET", "/api/v1/tasks/"+id, &s)
		if err != nil {
			return err
		}
		return p.snapshot(raw, s)
	case "watch":
		return c.watch(ctx, id, func(raw []byte, s models.TaskSnapshot) error {
			return p.snapshot(raw, s)
		})
	case "cancel":
		var s models.TaskSnapshot
		raw, err := c.do(ctx, "POST", "/api/v1/tasks/"+id+"/cancel", &s)
		if err != nil {
			return err
		}
		return p.line(raw, "cancellation requested for %s (status %s)", s.ID, s.Status)
	case "resume":
		var r struct {
			TaskID      string `json:"task_id"`
			ResumedFrom string `json:"resumed_from"`
		}
		raw, err := c.do(ctx, "POST", "/api/v1/tasks/"+id+"/resume", &r)
		if err != nil {
			return err
		}
		return p.line(raw, "resumed %s as %s", r.ResumedFrom, r.TaskID)
	default:
		return fmt.Errorf("%w: unknown task command %q", errUsage, cmd)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

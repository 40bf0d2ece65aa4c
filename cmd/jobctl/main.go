// Command jobctl is a terminal client for the job tracker API. Writes go
// through the optimistic controller, so a failed call leaves the local view
// exactly as it was.
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/justsurfingit/jobtracker/internal/client"
	"github.com/justsurfingit/jobtracker/internal/config"
	"github.com/justsurfingit/jobtracker/internal/errors"
	"github.com/justsurfingit/jobtracker/internal/optimistic"
	"github.com/justsurfingit/jobtracker/internal/querycache"
	"go.uber.org/zap"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"list":        {"list jobs, optionally filtered and grouped", cmdList},
	"stats":       {"show dashboard statistics", cmdStats},
	"add":         {"add a job, optionally prefilled by the AI parser", cmdAdd},
	"edit-status": {"change the status of a job: edit-status <id> <status>", cmdEditStatus},
	"tag":         {"add or remove tech tags: tag <id> add|rm <tag>...", cmdTag},
	"delete":      {"delete jobs: delete <id>...", cmdDelete},
	"parse":       {"run the AI parser on text or an image", cmdParse},
	"upload":      {"upload files and print their URLs", cmdUpload},
	"export":      {"download all jobs as csv or json", cmdExport},
	"watch":       {"follow job changes published on NATS", cmdWatch},
	"health":      {"check that the API is reachable", cmdHealth},
}

// usageError means flag parsing failed and the flag package already printed
// the reason.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

type app struct {
	api    *client.Client
	cache  *querycache.Cache
	ctrl   *optimistic.Controller
	cfg    *config.ClientConfig
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
}

func newApp(baseURL string, cfg *config.ClientConfig, logger *zap.Logger, out, errOut io.Writer) *app {
	api := client.New(baseURL,
		client.WithTimeout(cfg.Timeout),
		client.WithLogger(logger))
	cache := querycache.New(querycache.JobsKey, api.ListJobs, logger)
	return &app{
		api:    api,
		cache:  cache,
		ctrl:   optimistic.New(cache, api, logger),
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		out:    out,
		errOut: errOut,
	}
}

func (a *app) close() {
	a.cache.Close()
	_ = a.logger.Sync()
}

// printf serializes output from watch callbacks and command goroutines.
func (a *app) printf(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("jobctl "+name, flag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func (a *app) parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return usageError{err}
	}
	return nil
}

// load fetches the job list into the cache.
func (a *app) load(ctx context.Context) error {
	return a.cache.Refresh(ctx)
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintln(w, "usage: jobctl [flags] <command> [args]")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-12s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(w, "\nflags:")
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg := config.LoadClient()

	global := flag.NewFlagSet("jobctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	baseURL := global.String("url", cfg.BaseURL, "job tracker API base URL (JOBTRACKER_URL)")
	verbose := global.Bool("v", false, "log requests to stderr")
	global.Usage = func() { usage(stderr, global) }
	if err := global.Parse(args); err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return 2
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		fmt.Fprintf(stderr, "jobctl: unknown command %q\n", rest[0])
		global.Usage()
		return 2
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintln(stderr, "jobctl:", err)
			return 1
		}
		logger = l
	}

	a := newApp(strings.TrimRight(*baseURL, "/"), cfg, logger, stdout, stderr)
	defer a.close()

	if err := cmd.run(ctx, a, rest[1:]); err != nil {
		var ue usageError
		switch {
		case stderrors.Is(err, flag.ErrHelp):
			return 0
		case stderrors.As(err, &ue):
			return 2
		}
		fmt.Fprintln(stderr, "error:", errors.UserMessage(err))
		return 1
	}
	return 0
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

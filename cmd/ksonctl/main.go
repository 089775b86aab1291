// Command ksonctl resolves kson URLs from the command line.
//
// Usage:
//
//	ksonctl [flags] get <url>
//	ksonctl [flags] invoke <url> <action> [key=value...]
//	ksonctl [flags] list <url> [key=value...]
//
// Futures are waited on and cursors are drained before the result is
// printed as JSON. Argument values that parse as JSON (numbers, booleans,
// quoted strings, objects) are sent as such; anything else is sent as a
// string.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/achilleasa/kson/client"
	"github.com/achilleasa/kson/client/middleware/circuitbreaker"
	"github.com/achilleasa/kson/config"
	"github.com/achilleasa/kson/envelope"
	"github.com/achilleasa/kson/logging"
	"github.com/achilleasa/kson/transport"
	"github.com/achilleasa/kson/transport/amqp"
	"github.com/achilleasa/kson/transport/http"
)

const breakerConfigPath = "ksonctl/circuitbreaker"

var errUsage = errors.New("usage: ksonctl [flags] get <url> | invoke <url> <action> [key=value...] | list <url> [key=value...]")

type options struct {
	server        string
	transportName string
	timeout       time.Duration
	debug         bool
}

func main() {
	var opts options
	flag.StringVar(&opts.server, "server", "http://localhost:8080", "base URL of the kson server (http transport only)")
	flag.StringVar(&opts.transportName, "transport", "http", "transport to use (http or amqp)")
	flag.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline, including future waits")
	flag.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	configFile := flag.String("config", "", "path to a JSONC configuration file")
	flag.Parse()

	if *configFile != "" {
		if err := config.LoadFile(*configFile); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, args []string, out io.Writer) error {
	tr, err := newTransport(opts)
	if err != nil {
		return err
	}

	err = config.SetDefaults(breakerConfigPath, map[string]string{
		"trip_threshold":  "3",
		"reset_threshold": "1",
		"cool_off_period": "1s",
	})
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if opts.debug {
		level = slog.LevelDebug
	}
	c, err := client.New(
		client.WithTransport(tr),
		client.WithLogger(logging.NewSlogServiceLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))),
		client.WithMiddleware(circuitbreaker.Factory(&circuitbreaker.DynamicConfig{ConfigPath: breakerConfigPath})),
	)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	res, err := execute(ctx, c, args)
	if err != nil {
		return err
	}
	return printResult(ctx, out, res)
}

func newTransport(opts options) (transport.Provider, error) {
	switch opts.transportName {
	case "http":
		tr := http.New()
		tr.URLBuilder = http.BaseURL(opts.server)
		return tr, nil
	case "amqp":
		return amqp.New(), nil
	}
	return nil, fmt.Errorf("unsupported transport %q", opts.transportName)
}

// execute runs a command and returns the resolved value.
func execute(ctx context.Context, c *client.Client, args []string) (interface{}, error) {
	if len(args) < 2 {
		return nil, errUsage
	}
	command, target := args[0], args[1]

	switch command {
	case "get":
		if len(args) != 2 {
			return nil, errUsage
		}
		return c.Resolve(ctx, target)
	case "invoke":
		if len(args) < 3 {
			return nil, errUsage
		}
		params, err := parseArgs(args[3:])
		if err != nil {
			return nil, err
		}
		res, err := c.Resolve(ctx, target)
		if err != nil {
			return nil, err
		}
		switch remote := res.(type) {
		case *client.RemoteService:
			return remote.Invoke(ctx, args[2], params)
		case *client.RemoteCollection:
			if args[2] == envelope.ActionCreate {
				return remote.Create(ctx, params)
			}
			return c.ResolveRequest(ctx, withAction(remote.URL(), args[2]), envelope.NewRequest(params))
		}
		return nil, fmt.Errorf("%w: %s resolved to %T", client.ErrUnexpectedVariant, target, res)
	case "list":
		selector, err := parseSelector(args[2:])
		if err != nil {
			return nil, err
		}
		res, err := c.Resolve(ctx, target)
		if err != nil {
			return nil, err
		}
		collection, ok := res.(*client.RemoteCollection)
		if !ok {
			return nil, fmt.Errorf("%w: %s resolved to %T", client.ErrUnexpectedVariant, target, res)
		}
		return collection.List(ctx, selector)
	}
	return nil, errUsage
}

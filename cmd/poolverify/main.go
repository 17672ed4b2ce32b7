// Package main implements the poolverify command: a one-shot check that a
// stratum pool's live job template pays the expected recipient.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/bardlex/poolverify/internal/bitcoin"
	"github.com/bardlex/poolverify/internal/messaging"
	"github.com/bardlex/poolverify/internal/stratum"
	"github.com/bardlex/poolverify/internal/verify"
	"github.com/bardlex/poolverify/pkg/log"
)

// Exit statuses
const (
	exitOK       = 0
	exitUsage    = 1
	exitHighRisk = 2
)

// set by the linker: go build -ldflags "-X main.version=M.N" ./...
var version = "dev"

func main() {
	app := newApp(os.Stdout, os.Stderr)
	os.Exit(run(app, os.Args, os.Stderr))
}

// run executes app and maps its error to an exit status
func run(app *cli.App, args []string, stderr io.Writer) int {
	err := app.Run(args)
	if err == nil {
		return exitOK
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(stderr, msg)
	}
	if ec, ok := err.(cli.ExitCoder); ok {
		return ec.ExitCode()
	}
	return exitUsage
}

func newApp(stdout, stderr io.Writer) *cli.App {
	app := cli.NewApp()
	app.Name = "poolverify"
	app.Usage = "confirm from a live stratum job that a pool pays your address"
	app.Version = version
	app.Writer = stdout
	app.ErrWriter = stderr
	// run maps errors to exit statuses
	app.ExitErrHandler = func(*cli.Context, error) {}

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "url, u",
			Usage: "*pool `URL` (stratum+tcp://, stratum+ssl://, or host[:port])",
		},
		cli.IntFlag{
			Name:  "port",
			Usage: " pool `PORT` when the URL has none",
		},
		cli.StringFlag{
			Name:  "user",
			Usage: "*stratum `USERNAME`, usually ADDRESS.WORKER",
		},
		cli.StringFlag{
			Name:  "password, p",
			Value: "x",
			Usage: " stratum `PASSWORD`",
		},
		cli.StringFlag{
			Name:  "recipient, r",
			Usage: " payout `ADDRESS` when the username does not carry one",
		},
		cli.Float64Flag{
			Name:  "min-share",
			Value: verify.DefaultMinShare,
			Usage: " minimum acceptable payout `FRACTION` (0,1]",
		},
		cli.DurationFlag{
			Name:  "timeout, t",
			Value: verify.DefaultTimeout,
			Usage: " probe `DURATION`",
		},
		cli.BoolFlag{
			Name:  "strict-tls",
			Usage: " validate the pool's TLS certificate",
		},
		cli.BoolFlag{
			Name:  "testnet",
			Usage: " render output addresses for testnet",
		},
		cli.StringFlag{
			Name:  "dns-server",
			Usage: " resolve the pool host against `HOST[:PORT]` instead of resolv.conf",
		},
		cli.StringFlag{
			Name:   "log-level",
			Value:  "warn",
			EnvVar: "LOG_LEVEL",
			Usage:  " `LEVEL` [debug|info|warn|error]",
		},
	}
	app.Action = runVerify

	app.Commands = []cli.Command{
		{
			Name:  "tail",
			Usage: "print verification results published by payoutwatch",
			Flags: []cli.Flag{
				cli.StringSliceFlag{
					Name:   "brokers, b",
					EnvVar: "KAFKA_BROKERS",
					Usage:  "*Kafka broker `HOST:PORT` (repeatable)",
				},
				cli.StringFlag{
					Name:  "group, g",
					Value: "poolverify-tail",
					Usage: " consumer `GROUP`",
				},
			},
			Action: runTail,
		},
		historyCommand,
	}
	return app
}

func usageError(format string, args ...any) error {
	return cli.NewExitError(fmt.Sprintf(format, args...), exitUsage)
}

func newLogger(c *cli.Context) *log.Logger {
	return log.NewWithWriter(c.App.ErrWriter, c.App.Name, version, c.GlobalString("log-level"), "text")
}

func runVerify(c *cli.Context) error {
	if c.NArg() > 0 {
		return usageError("unexpected arguments: %v", c.Args())
	}
	if c.String("url") == "" {
		return usageError("--url is required")
	}
	if c.String("user") == "" {
		return usageError("--user is required")
	}
	minShare := c.Float64("min-share")
	if minShare <= 0 || minShare > 1 {
		return usageError("--min-share must be in (0,1], got %v", minShare)
	}
	timeout := c.Duration("timeout")
	if timeout <= 0 {
		return usageError("--timeout must be positive")
	}

	ep, err := stratum.ParseEndpoint(c.String("url"), c.Int("port"))
	if err != nil {
		return usageError("invalid pool url: %v", err)
	}

	logger := newLogger(c)

	network := bitcoin.MainNet
	if c.Bool("testnet") {
		network = bitcoin.TestNet
	}

	opts := []verify.Option{}
	if resolver, err := verify.NewDNSResolver(c.String("dns-server"), 0, logger); err != nil {
		logger.WithError(err).Warn("dns lookup disabled")
	} else {
		opts = append(opts, verify.WithResolver(resolver))
	}

	prober := stratum.NewProber(stratum.Config{StrictTLS: c.Bool("strict-tls")}, logger)
	verifier := verify.NewVerifier(verify.Config{
		MinShare: minShare,
		Timeout:  timeout,
		Network:  network,
	}, prober, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := verifier.Verify(ctx, verify.Request{
		Endpoint:  ep,
		Username:  c.String("user"),
		Password:  c.String("password"),
		Recipient: c.String("recipient"),
	})

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("failed to encode result: %v", err), exitUsage)
	}
	fmt.Fprintln(c.App.Writer, string(out))

	if res.Risk.Label == verify.LabelHigh {
		return cli.NewExitError("", exitHighRisk)
	}
	return nil
}

func runTail(c *cli.Context) error {
	var brokers []string
	for _, b := range c.StringSlice("brokers") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return usageError("--brokers is required")
	}

	logger := newLogger(c)
	client := messaging.NewKafkaClient(brokers, logger)
	defer func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close Kafka client")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	printer := newEventPrinter(c.App.Writer)
	err := client.StartResultConsumer(ctx, c.String("group"), messaging.HandlerFunc(printer.HandleMessage))
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// eventPrinter writes each result event as one JSON line
type eventPrinter struct {
	w       io.Writer
	options protojson.MarshalOptions
}

func newEventPrinter(w io.Writer) *eventPrinter {
	return &eventPrinter{w: w, options: protojson.MarshalOptions{UseProtoNames: true}}
}

func (p *eventPrinter) HandleMessage(_ context.Context, key string, msg proto.Message) error {
	data, err := p.options.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to render event %s: %w", key, err)
	}
	_, err = fmt.Fprintf(p.w, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339), key, data)
	return err
}

// Command routingbrokerd is the broker's daemon entry point: CLI flag
// parsing and process lifecycle only. Everything else lives in the
// broker/session/subscribe/wire/object packages.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"
	"golang.org/x/sync/errgroup"

	"github.com/biomine3000/routingbroker/broker"
	"github.com/biomine3000/routingbroker/internal/cos"
	"github.com/biomine3000/routingbroker/internal/hk"
	"github.com/biomine3000/routingbroker/internal/nlog"
)

func main() {
	app := cli.NewApp()
	app.Name = "routingbrokerd"
	app.Usage = "pub/sub business-object routing broker"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "listen", Value: "127.0.0.1:7890", Usage: "TCP listen address"},
		cli.IntFlag{Name: "max-sessions", Value: 128, Usage: "session registry size, including reserved tokens 0 and 1"},
		cli.IntFlag{Name: "max-queue-depth", Value: 1024, Usage: "per-session send-queue cap (0 = unbounded)"},
		cli.BoolTFlag{Name: "self-echo", Usage: "route a publisher's own messages back to it"},
		cli.DurationFlag{Name: "idle-teardown", Value: 0, Usage: "disconnect subscribed sessions idle longer than this (0 disables)"},
		cli.BoolFlag{Name: "logtostderr", Usage: "write log lines to stderr instead of log files"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		cos.ExitLogf("routingbrokerd: %v", err)
	}
}

func run(c *cli.Context) error {
	defer nlog.Flush(true)
	if c.Bool("logtostderr") {
		fs := flag.NewFlagSet("nlog", flag.ContinueOnError)
		nlog.InitFlags(fs)
		_ = fs.Parse([]string{"-logtostderr=true"})
	}

	cfg := broker.DefaultConfig()
	cfg.ListenAddr = c.String("listen")
	cfg.MaxSessions = c.Int("max-sessions")
	cfg.MaxQueueDepth = c.Int("max-queue-depth")
	cfg.IdleTeardown = c.Duration("idle-teardown")
	cfg.SelfEcho = c.BoolT("self-echo")

	b, err := broker.New(cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		hk.DefaultHK.Run()
		return nil
	})
	hk.WaitStarted()

	const logFlushIval = 40 * time.Second
	hk.Reg("log-flush", func() time.Duration {
		nlog.Flush()
		return logFlushIval
	}, logFlushIval)

	g.Go(func() error { return b.Run(ctx) })

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		nlog.Infof("routingbrokerd: received %v, shutting down", sig)
	case <-ctx.Done():
	}

	cancel()
	hk.DefaultHK.Stop()

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		nlog.Warningf("routingbrokerd: shutdown timed out")
		return nil
	}
}

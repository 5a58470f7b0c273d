/*
This is an example of application that will use the
engine package to test things out
*/
package main

import (
	"context"
	"errors"
	"flag"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/prism/engine"
	"github.com/spaghettifunk/prism/engine/core"
	"github.com/spaghettifunk/prism/testbed"
)

func main() {
	if err := run(); err != nil {
		// closes the log file and exits with status 1
		core.LogFatalError(err, 0)
	}
	if err := core.LogClose(); err != nil {
		core.LogFatalError(err, 0)
	}
}

func run() (err error) {
	configPath := flag.String("config", "prism.toml", "path of the TOML configuration")
	backend := flag.String("backend", "", "override the renderer backend (vulkan or stub)")
	flag.Parse()

	cfg, err := engine.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	if *backend != "" {
		cfg.Renderer.Backend = *backend
	}

	tb := testbed.NewTestGame()
	e, err := engine.New(cfg, tb.Game)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, e.Shutdown())
	}()

	// signal context to capture system calls
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := e.Initialize(ctx); err != nil {
		return err
	}
	return e.Run(ctx)
}

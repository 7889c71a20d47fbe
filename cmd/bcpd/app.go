package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"bcphub/pkg/bcp"
	"bcphub/pkg/config"
	"bcphub/pkg/events"
	"bcphub/pkg/observability"
	"bcphub/pkg/phase"
	"bcphub/pkg/protocol"
)

var errLinkLost = errors.New("exit_on_close connection lost")

// run is the main entry point after CLI parsing.
func run(opts Options) int {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		return 2
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logger: " + err.Error() + "\n")
		return 1
	}
	defer func() { _ = logger.Sync() }()

	zap.L().Info("bcpd started", zap.String("app", cfg.AppName))
	zap.L().Debug("effective configuration", zap.Any("config", cfg))

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	bus := events.NewBus()
	bus.AddHandler(events.ConnectionAttempt, func(e events.Event) {
		zap.L().Info("bcp connecting", zap.Any("name", e.Data["name"]), zap.Any("host", e.Data["host"]), zap.Any("port", e.Data["port"]))
	})
	bus.AddHandler(events.ClientDisconnected, func(e events.Event) {
		zap.L().Info("bcp client disconnected", zap.Any("name", e.Data["name"]))
	})

	b, err := bcp.New(cfg.BCP,
		bcp.WithEvents(bus),
		bcp.WithNet(cfg.Net),
		bcp.WithFatalClose(func(name string) { cancel(fmt.Errorf("%w: %s", errLinkLost, name)) }),
	)
	if err != nil {
		zap.L().Error("bcp configuration invalid", zap.Error(err))
		return 2
	}
	b.Interface().RegisterCommand("monitor_start", func(c *bcp.Client, cmd protocol.Command) {
		zap.L().Info("monitor requested", zap.String("client", c.ID()), zap.String("category", cmd.GetString("category", "")))
	})

	seq := phase.NewSequencer()
	b.Attach(seq)

	code := 0
	if err := seq.Run(ctx); err != nil && context.Cause(ctx) == nil {
		zap.L().Error("boot failed", zap.Error(err))
		code = 1
	} else if err == nil {
		zap.L().Info("bcpd is running; press Ctrl+C to exit", zap.Int("links", b.Registry().Len()), zap.Int("servers", len(b.Servers())))
		if opts.Tick > 0 {
			go tick(ctx, b, opts.Tick)
		}
		<-ctx.Done()
	}

	if cause := context.Cause(ctx); errors.Is(cause, errLinkLost) {
		zap.L().Error("stopping", zap.Error(cause))
		code = 1
	}

	sctx, scancel := context.WithTimeout(context.Background(), opts.ShutdownWait)
	defer scancel()
	if err := seq.Shutdown(sctx); err != nil {
		zap.L().Warn("shutdown incomplete", zap.Error(err))
	}
	zap.L().Info("bcp links", zap.Any("links", b.Peers().List()))
	zap.L().Info("bcpd stopped")
	return code
}

func tick(ctx context.Context, b *bcp.BCP, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n++
			b.Send("tick", map[string]any{"n": n})
		}
	}
}

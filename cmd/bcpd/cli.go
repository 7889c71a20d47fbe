package main

import (
	"flag"
	"time"
)

// Options holds CLI options for the daemon.
type Options struct {
	ConfigPath   string
	Tick         time.Duration
	ShutdownWait time.Duration
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("bcpd", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.DurationVar(&opts.Tick, "tick", 0, "Broadcast a tick command at this interval (0 = off)")
	fs.DurationVar(&opts.ShutdownWait, "shutdown-wait", 5*time.Second, "Upper bound for the shutdown phase")
	_ = fs.Parse(args)
	return opts
}

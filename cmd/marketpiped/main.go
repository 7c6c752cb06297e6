package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketpipe/internal/app"
)

func main() {
	var (
		cfgPath     string
		crontabPath string
		list        bool
		once        string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (yaml or json)")
	flag.StringVar(&crontabPath, "crontab", "", "schedule file path (overrides config)")
	flag.BoolVar(&list, "list", false, "print the parsed schedule with next fire times and exit")
	flag.StringVar(&once, "once", "", "run one entry immediately (built-in name, exact command, or 1-based index) and exit with its code")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath, app.Overrides{Crontab: crontabPath})
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if list {
		entries, err := a.ListEntries()
		if err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
		for _, e := range entries {
			next := "-"
			if !e.Next.IsZero() {
				next = e.Next.Format(time.RFC3339)
			}
			fmt.Printf("%-20s  next=%s  %s\n", e.Spec, next, e.Name)
		}
		return
	}

	if once != "" {
		code, err := a.RunOnce(ctx, once)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run failed:", err)
		}
		if code < 0 {
			code = 1
		}
		os.Exit(code)
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	// Foreground: the process lives until a signal or a fatal error.
	select {
	case <-ctx.Done():
	case <-a.Done():
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)

	if err := a.Err(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

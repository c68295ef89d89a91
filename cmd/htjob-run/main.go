// Command htjob-run executes a function job on the execute node. The
// scheduler starts it in the job sandbox as
//
//	htjob-run <id> <input>
//
// where <id>.func and the input file have been transferred alongside. The
// result is written to <id>.output.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/me/htjob/internal/logging"
	"github.com/me/htjob/internal/runner"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "Log format (text, json)")
	dir := flag.String("dir", "", "Directory holding the job files (default: current directory)")
	list := flag.Bool("list", false, "List the registered functions and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <id> <input>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	reg := runner.NewRegistry()
	runner.RegisterBuiltins(reg)

	if *list {
		for _, name := range reg.Names() {
			fmt.Println(name)
		}
		return
	}
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(2)
	}

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logFormat)

	workDir := *dir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot determine working directory: %v\n", err)
			os.Exit(1)
		}
		workDir = wd
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inv := runner.NewInvoker(reg, logger)
	if err := inv.Run(ctx, workDir, flag.Arg(0), flag.Arg(1)); err != nil {
		logger.Error("function failed", "id", flag.Arg(0), "error", err)
		os.Exit(1)
	}
}

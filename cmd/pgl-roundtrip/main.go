// Command pgl-roundtrip verifies a file transfer tool by copying a random
// test tree to a remote host and back, then comparing both ends.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/paulschiretz/pgl-roundtrip/cmd"
	"github.com/paulschiretz/pgl-roundtrip/pkg/buildinfo"
	"github.com/paulschiretz/pgl-roundtrip/pkg/flagparse"
	"github.com/paulschiretz/pgl-roundtrip/pkg/plog"
)

// run encapsulates the main application logic and returns an error if something
// goes wrong, allowing the main function to handle exit codes.
func run(ctx context.Context, args []string) error {
	command, flagMap, err := flagparse.Parse(args)
	if err != nil {
		return err
	}

	if command != flagparse.None && command != flagparse.Version {
		plog.Debug("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
	}

	switch command {
	case flagparse.None:
		return nil // Usage was printed.
	case flagparse.Version:
		return cmd.RunVersion(buildinfo.Name, buildinfo.Version)
	case flagparse.Init:
		return cmd.RunInit(ctx, flagMap)
	case flagparse.Gendata:
		return cmd.RunGendata(ctx, flagMap)
	case flagparse.Compare:
		return cmd.RunCompare(ctx, flagMap)
	case flagparse.Run:
		return cmd.RunTrips(ctx, flagMap)
	default:
		return fmt.Errorf("internal error: unknown command %d", command)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		stop()
		os.Exit(1)
	}
}

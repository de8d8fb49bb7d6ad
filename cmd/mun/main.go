// Command mun is the host driver: it loads the compiled artifact of a
// project manifest, keeps it hot-reloaded, and invokes its entry points.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/breadchris/mun/runtime"
)

const (
	exitOK = 0
	// exitLoadFailure: the artifact could not be loaded or linked at
	// startup.
	exitLoadFailure = 1
	// exitMigrationAbort: a live swap failed after the type rewrite
	// committed; object memory is inconsistent.
	exitMigrationAbort = 2
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func main() {
	var (
		poll    time.Duration
		verbose bool
		entry   string
	)
	root := &cobra.Command{
		Use:          "mun <manifest>",
		Short:        "run a project and hot-reload it on change",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], poll, verbose, entry)
		},
	}
	root.Flags().DurationVar(&poll, "poll", 10*time.Millisecond, "artifact poll interval")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "log assembly lifecycle events")
	root.Flags().StringVar(&entry, "invoke", "", "function to invoke every cycle")

	if err := root.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.err)
			os.Exit(ee.code)
		}
		os.Exit(exitLoadFailure)
	}
	os.Exit(exitOK)
}

func run(manifest string, poll time.Duration, verbose bool, entry string) error {
	log := zap.NewNop()
	if verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	rt, err := runtime.New(runtime.Options{PollInterval: poll, Logger: log})
	if err != nil {
		return &exitError{code: exitLoadFailure, err: err}
	}
	defer rt.Close()

	if err := rt.AddManifest(manifest); err != nil {
		return &exitError{code: exitLoadFailure, err: err}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	defer signal.Stop(sig)

	ticker := time.NewTicker(rt.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-sig:
			return nil
		case <-ticker.C:
			if _, err := rt.Update(); err != nil {
				var fatal *runtime.FatalError
				if errors.As(err, &fatal) {
					return &exitError{code: exitMigrationAbort, err: err}
				}
				log.Warn("reload failed, previous assembly stays live", zap.Error(err))
			}
			if entry != "" {
				if out, err := rt.Invoke(manifest, entry); err != nil {
					log.Warn("invoke failed", zap.String("fn", entry), zap.Error(err))
				} else if out != nil {
					fmt.Println(out)
				}
			}
		}
	}
}

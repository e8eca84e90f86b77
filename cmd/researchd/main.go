package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/researchd/config"
	"github.com/mohammad-safakhou/researchd/internal/app"
)

func main() {
	if err := newRootCMD().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCMD() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "researchd",
		Short:         "Research workflow service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	load := func() (*config.Config, error) { return config.Load(cfgPath) }
	root.AddCommand(
		serveCMD(load),
		migrateCMD(load),
		consumeCMD(load),
		runCMD(load),
		traceCMD(load),
		tokenCMD(load),
	)
	return root
}

type configLoader func() (*config.Config, error)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func buildContainer(ctx context.Context, load configLoader, opts ...app.Option) (*app.Container, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, opts...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}

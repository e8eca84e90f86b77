package main

import (
	"github.com/spf13/cobra"
)

func consumeCMD(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Apply progress events from the stream to job rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			c, err := buildContainer(ctx, load)
			if err != nil {
				return err
			}
			defer c.Close()

			consumer, err := c.EventConsumer()
			if err != nil {
				return err
			}
			return consumer.Run(ctx)
		},
	}
}

package main

import (
	"github.com/spf13/cobra"
)

func traceCMD(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "trace <thread_id>",
		Short: "Print every checkpoint of a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := buildContainer(cmd.Context(), load)
			if err != nil {
				return err
			}
			defer c.Close()

			entries, err := c.Engine.Trace(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), entries)
		},
	}
}

package main

import (
	"errors"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/researchd/internal/app"
	"github.com/mohammad-safakhou/researchd/internal/workflow"
)

func runCMD(load configLoader) *cobra.Command {
	var deny bool
	var corpus string
	var threadID string
	run := &cobra.Command{
		Use:   "run <query>",
		Short: "Run one query in-process and print the final answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg, err := load()
			if err != nil {
				return err
			}
			if corpus != "" {
				cfg.Storage.File.CorpusDir = corpus
			}
			c, err := app.New(ctx, cfg, app.InMemory())
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Engine.Submit(ctx, workflow.SubmitRequest{Query: strings.Join(args, " "), ThreadID: threadID})
			if err != nil {
				return err
			}
			if res.Status == workflow.StatusWaitingForApproval {
				action := workflow.ActionApprove
				if deny {
					action = workflow.ActionDeny
				}
				cmd.Printf("%v -> %s\n", res.Interrupt.Payload["msg"], action)
				thread := res.ThreadID
				res, err = c.Engine.Resume(ctx, thread, workflow.ResumeValue{Action: action})
				if errors.Is(err, workflow.ErrExport) {
					cmd.PrintErrf("report export failed: %v\n", err)
					res, err = c.Engine.Status(ctx, thread)
				}
				if err != nil {
					return err
				}
			}
			printResult(cmd, res)
			return nil
		},
	}
	run.Flags().BoolVar(&deny, "deny", false, "deny the compliance approval instead of approving")
	run.Flags().Bool("approve", true, "approve the compliance review (default)")
	run.MarkFlagsMutuallyExclusive("approve", "deny")
	run.Flags().StringVar(&corpus, "corpus", "", "directory of .txt/.md files to index for retrieval")
	run.Flags().StringVar(&threadID, "thread", "", "thread id (default generated)")
	return run
}

func printResult(cmd *cobra.Command, res workflow.Result) {
	cmd.Printf("thread %s: %s\n\n", res.ThreadID, res.Status)
	final := res.State.Artifacts.FinalAnswer
	if final == "" {
		final = res.State.DraftText()
	}
	cmd.Println(final)
	if len(res.State.FinalReport) == 0 {
		return
	}
	formats := make([]string, 0, len(res.State.FinalReport))
	for f := range res.State.FinalReport {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	cmd.Println()
	for _, f := range formats {
		cmd.Printf("%s: %s\n", f, res.State.FinalReport[f])
	}
}

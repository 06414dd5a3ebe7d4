package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newWatchCmd(root *rootFlags, hostname string) *cobra.Command {
	var poll time.Duration

	cmd := &cobra.Command{
		Use:   "watch <job-slug>",
		Short: "Follow an import job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, root, hostname)
			if err != nil {
				return err
			}
			defer a.close()
			a.startDebug(ctx)

			if _, err := a.svc.GetImportJobBySlug(ctx, args[0]); err != nil {
				return err
			}
			return follow(ctx, a, cmd.OutOrStdout(), poll)
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 2*time.Second, "Fallback refresh interval")
	return cmd
}

// follow prints the tracked job each time it changes. The event stream keeps
// the job current; the ticker refreshes it when the stream has gone quiet.
// It returns once the job is terminal, is deleted, or ctx is done.
func follow(ctx context.Context, a *app, w io.Writer, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	var last []byte
	for {
		job := a.svc.CurrentJob()
		if job == nil {
			a.log.Info(ctx, "job no longer tracked")
			return nil
		}

		snapshot, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if !bytes.Equal(snapshot, last) {
			if err := writeJSON(w, job); err != nil {
				return err
			}
			last = snapshot
		}
		if job.State.IsTerminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := a.svc.RefreshImportJob(ctx); err != nil && ctx.Err() == nil {
			a.log.Warn(ctx, "failed to refresh job", "job_slug", job.Slug, "error", err)
		}
	}
}

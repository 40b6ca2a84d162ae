package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/meetcap/internal/types"
)

func printTasks(f *Formatter, empty string, tasks []types.UploadTask) {
	if len(tasks) == 0 {
		f.Info(empty)
		return
	}
	for _, t := range tasks {
		f.UploadTask(t)
	}
}

func NewUploadsCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "uploads",
		Short: "List uploads waiting in the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := deps.client().PendingUploads(cmd.Context())
			if err != nil {
				return err
			}
			printTasks(deps.formatter(), "No pending uploads", tasks)
			return nil
		},
	}
}

func NewDeadCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "dead",
		Short: "List uploads that exhausted their retries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := deps.client().DeadUploads(cmd.Context())
			if err != nil {
				return err
			}
			printTasks(deps.formatter(), "No dead-lettered uploads", tasks)
			return nil
		},
	}
}

func NewRetryCmd(deps *Dependencies) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "retry [segment-id...]",
		Short: "Requeue dead-lettered uploads",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := deps.client()
			ids := args
			if all {
				tasks, err := client.DeadUploads(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range tasks {
					ids = append(ids, t.SegmentID)
				}
			}
			if len(ids) == 0 {
				return fmt.Errorf("no segment ids given (use --all to retry every dead upload)")
			}

			f := deps.formatter()
			for _, id := range ids {
				if err := client.Retry(cmd.Context(), id); err != nil {
					return fmt.Errorf("retry %s: %w", id, err)
				}
				f.Success("Requeued " + id)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "retry every dead-lettered upload")
	return cmd
}

func NewStatsCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show storage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.client().Stats(cmd.Context())
			if err != nil {
				return err
			}
			deps.formatter().Stats(st)
			return nil
		},
	}
}

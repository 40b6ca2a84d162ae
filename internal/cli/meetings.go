package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewMeetingsCmd(deps *Dependencies) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "meetings",
		Aliases: []string{"list"},
		Short:   "List recorded meetings",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := deps.formatter()

			meetings, err := deps.client().Meetings(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(meetings) == 0 {
				f.Info("No meetings found")
				return nil
			}

			f.MeetingListHeader()
			for _, m := range meetings {
				f.MeetingListItem(m)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of meetings to list")
	return cmd
}

func NewTranscriptCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "transcript <meeting-id>",
		Short: "Print a meeting transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := deps.client().Transcript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				deps.formatter().Info("Transcript is empty")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func NewReassembleCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "reassemble <meeting-id>",
		Short: "Rebuild a transcript from its segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := deps.client().Reassemble(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			transcribed := 0
			for _, s := range rec.Segments {
				if s.IsTranscribed {
					transcribed++
				}
			}
			deps.formatter().Success(fmt.Sprintf("Reassembled %s from %d of %d segments",
				rec.Meeting.ID, transcribed, len(rec.Segments)))
			return nil
		},
	}
}

package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/meetcap/internal/ipc"
)

// sendCommand writes req to the daemon's command file
func sendCommand(deps *Dependencies, req ipc.Request) error {
	path := deps.Config.IPC.CommandFile
	if path == "" {
		return fmt.Errorf("no command file configured (ipc.command_file)")
	}
	if err := ipc.WriteCommand(path, req); err != nil {
		return err
	}
	deps.formatter().Info(fmt.Sprintf("Sent %q to %s", req.String(), path))
	return nil
}

func addCommandFileFlag(cmd *cobra.Command, deps *Dependencies) {
	cmd.Flags().BoolVar(&deps.UseCommandFile, "via-file", false, "send through the command file instead of HTTP")
}

func NewStartCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start [title]",
		Short: "Start recording a meeting",
		Long:  "Start a new recording session. The title defaults to the current date.",
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.TrimSpace(strings.Join(args, " "))
			if deps.UseCommandFile {
				return sendCommand(deps, ipc.Request{Command: ipc.CmdStart, Title: title})
			}

			st, err := deps.client().Start(cmd.Context(), title)
			if err != nil {
				return err
			}
			f := deps.formatter()
			f.Success(fmt.Sprintf("Recording started: %s (%s)", st.Title, st.MeetingID))
			return nil
		},
	}
	addCommandFileFlag(cmd, deps)
	return cmd
}

func NewPauseCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause the active recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.UseCommandFile {
				return sendCommand(deps, ipc.Request{Command: ipc.CmdPause})
			}
			st, err := deps.client().Pause(cmd.Context())
			if err != nil {
				return err
			}
			deps.formatter().Status(st)
			return nil
		},
	}
	addCommandFileFlag(cmd, deps)
	return cmd
}

func NewResumeCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused recording",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.UseCommandFile {
				return sendCommand(deps, ipc.Request{Command: ipc.CmdResume})
			}
			st, err := deps.client().Resume(cmd.Context())
			if err != nil {
				return err
			}
			deps.formatter().Status(st)
			return nil
		},
	}
	addCommandFileFlag(cmd, deps)
	return cmd
}

func NewStopCmd(deps *Dependencies) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop recording and assemble the transcript",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if deps.UseCommandFile {
				return sendCommand(deps, ipc.Request{Command: ipc.CmdStop})
			}
			rec, err := deps.client().Stop(cmd.Context())
			if err != nil {
				return err
			}
			deps.formatter().MeetingStopped(rec)
			return nil
		},
	}
	addCommandFileFlag(cmd, deps)
	return cmd
}

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := deps.client().Current(cmd.Context())
			if err != nil {
				return err
			}
			deps.formatter().Status(st)
			return nil
		},
	}
}

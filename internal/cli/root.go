// Package cli implements meetctl, the command-line front end of the daemon.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/meetcap/internal/config"
	"github.com/codebuildervaibhav/meetcap/internal/handlers"
)

type Dependencies struct {
	Config *config.Config
	Server string // daemon base URL
	Out    io.Writer

	// UseCommandFile sends session commands through the command file
	UseCommandFile bool
}

func (d *Dependencies) client() *Client {
	return NewClient(d.Server)
}

func (d *Dependencies) formatter() *Formatter {
	if d.Out == nil {
		return NewFormatter(os.Stdout)
	}
	return NewFormatter(d.Out)
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "meetctl",
		Short:         "Control the meetcap recording daemon",
		Long:          "Start, pause, resume and stop meeting recordings, browse transcripts and manage the upload queue of a running meetcap daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = handlers.Version
	if deps.Out != nil {
		rootCmd.SetOut(deps.Out)
	}

	rootCmd.PersistentFlags().StringVar(&deps.Server, "server", deps.Server, "daemon base URL")

	rootCmd.AddCommand(NewStartCmd(deps))
	rootCmd.AddCommand(NewPauseCmd(deps))
	rootCmd.AddCommand(NewResumeCmd(deps))
	rootCmd.AddCommand(NewStopCmd(deps))
	rootCmd.AddCommand(NewStatusCmd(deps))
	rootCmd.AddCommand(NewMeetingsCmd(deps))
	rootCmd.AddCommand(NewTranscriptCmd(deps))
	rootCmd.AddCommand(NewReassembleCmd(deps))
	rootCmd.AddCommand(NewUploadsCmd(deps))
	rootCmd.AddCommand(NewDeadCmd(deps))
	rootCmd.AddCommand(NewRetryCmd(deps))
	rootCmd.AddCommand(NewStatsCmd(deps))
	rootCmd.AddCommand(NewExportCmd(deps))
	rootCmd.AddCommand(NewImportCmd(deps))
	rootCmd.AddCommand(NewWatchCmd(deps))
	rootCmd.AddCommand(NewDriveAuthCmd(deps))

	return rootCmd
}

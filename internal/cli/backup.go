package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func NewExportCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Dump meetings, segments and upload tasks as JSON",
		Long:  "Download the daemon's metadata as one JSON document. Writes to stdout unless a file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dump, err := deps.client().Export(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 0 || args[0] == "-" {
				_, err := io.WriteString(cmd.OutOrStdout(), dump)
				return err
			}
			if err := os.WriteFile(args[0], []byte(dump), 0644); err != nil {
				return fmt.Errorf("writing export: %w", err)
			}
			deps.formatter().Success("Exported to " + args[0])
			return nil
		},
	}
}

func NewImportCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore a JSON export into the daemon",
		Long:  "Send a document produced by export. Meetings, segments and tasks that already exist are left as they are. Use - to read stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if args[0] != "-" {
				file, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening export: %w", err)
				}
				defer file.Close()
				in = file
			}

			res, err := deps.client().Import(cmd.Context(), in)
			if err != nil {
				return err
			}
			deps.formatter().Success(fmt.Sprintf("Imported %d meetings, %d segments, %d upload tasks",
				res.Meetings, res.Segments, res.UploadTasks))
			return nil
		},
	}
}

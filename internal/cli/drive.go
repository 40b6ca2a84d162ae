package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/meetcap/internal/storage"
)

func NewDriveAuthCmd(deps *Dependencies) *cobra.Command {
	var code string
	cmd := &cobra.Command{
		Use:   "drive-auth",
		Short: "Authorize Google Drive uploads",
		Long:  "Print the Google consent URL, then exchange the returned code for a token saved at google_drive.token_file.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gd := deps.Config.GoogleDrive
			authURL, oauthCfg, err := storage.DriveAuthURL(gd.CredentialsFile)
			if err != nil {
				return err
			}

			f := deps.formatter()
			if code == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Open this link in your browser, then paste the authorization code:\n\n%s\n\n> ", authURL)
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("reading authorization code: %w", err)
				}
				code = strings.TrimSpace(line)
			}
			if code == "" {
				return fmt.Errorf("no authorization code given")
			}

			if err := storage.ExchangeAndSaveToken(cmd.Context(), oauthCfg, code, gd.TokenFile); err != nil {
				return err
			}
			f.Success("Drive token saved: " + gd.TokenFile)
			if deps.Config.Upload.Transport != "gdrive" {
				f.Warning("upload.transport is " + deps.Config.Upload.Transport + "; set it to gdrive to upload to Drive")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", os.Getenv("MEETCAP_DRIVE_CODE"), "authorization code (skips the prompt)")
	return cmd
}

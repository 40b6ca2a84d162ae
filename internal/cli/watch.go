package cli

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/codebuildervaibhav/meetcap/internal/events"
)

func NewWatchCmd(deps *Dependencies) *cobra.Command {
	var meetingID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream pipeline events as they happen",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := deps.client().EventsURL(meetingID)
			if err != nil {
				return err
			}
			conn, _, err := websocket.DefaultDialer.DialContext(cmd.Context(), u, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			// Close the socket when the command is cancelled so ReadJSON returns
			stop := context.AfterFunc(cmd.Context(), func() { conn.Close() })
			defer stop()

			f := deps.formatter()
			f.Info("Watching " + u)
			for {
				var ev events.Event
				if err := conn.ReadJSON(&ev); err != nil {
					var closeErr *websocket.CloseError
					if cmd.Context().Err() != nil || errors.As(err, &closeErr) {
						return nil
					}
					return err
				}
				f.Event(ev)
			}
		},
	}
	cmd.Flags().StringVarP(&meetingID, "meeting", "m", "", "only show events for this meeting")
	return cmd
}

package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nat64d/nat64d/internal/nat64"
)

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect active sessions",
	}

	cmd.AddCommand(sessionListCmd())

	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <udp|tcp|icmp>",
		Short: "List active sessions for a protocol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessions []nat64.SessionInfo
			if err := doRequest(cmd.Context(), http.MethodGet, "/v1/sessions/"+args[0], nil, &sessions); err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}

			out, err := formatSessions(sessions, outputFormat)
			if err != nil {
				return fmt.Errorf("format sessions: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

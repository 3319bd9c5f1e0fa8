package cli

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewSessionsCmd creates the sessions command group.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsEndCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessions []struct {
				ID         string `json:"id"`
				Agent      string `json:"agent"`
				Status     string `json:"status"`
				SandboxPod string `json:"sandbox_pod"`
				CreatedAt  string `json:"created_at"`
			}
			if err := apiGet("/api/sessions", &sessions); err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"ID", "Agent", "Status", "Sandbox", "Created"})
			for _, s := range sessions {
				t.AppendRow(table.Row{s.ID, s.Agent, s.Status, s.SandboxPod, s.CreatedAt})
			}
			t.Render()
			return nil
		},
	}
}

func newSessionsEndCmd() *cobra.Command {
	var purge bool

	cmd := &cobra.Command{
		Use:   "end [id]",
		Short: "End a session and reclaim its sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := serverURL() + "/api/sessions/" + args[0]
			if purge {
				url += "?purge=true"
			}
			req, err := http.NewRequest(http.MethodDelete, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("end failed with %d: %s", resp.StatusCode, body)
			}

			fmt.Println("session ended")
			return nil
		},
	}

	cmd.Flags().BoolVar(&purge, "purge", false, "Also delete the session's stored state")
	return cmd
}

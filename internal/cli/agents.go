package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// NewAgentsCmd creates the agents command group.
func NewAgentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage agent definitions",
	}
	cmd.AddCommand(newAgentsListCmd())
	cmd.AddCommand(newAgentsImportCmd())
	cmd.AddCommand(newAgentsExportCmd())
	cmd.AddCommand(newAgentsDeleteCmd())
	return cmd
}

func serverURL() string {
	return viper.GetString("server")
}

func apiGet(path string, out interface{}) error {
	resp, err := http.Get(serverURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func newAgentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var agents []struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := apiGet("/api/agents", &agents); err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Name", "Description"})
			for _, a := range agents {
				t.AppendRow(table.Row{a.Name, a.Description})
			}
			t.Render()
			return nil
		},
	}
}

func newAgentsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [file]",
		Short: "Import an agent definition from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			resp, err := http.Post(serverURL()+"/api/agents/import", "application/yaml", bytes.NewReader(data))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("import failed with %d: %s", resp.StatusCode, body)
			}

			fmt.Println("agent imported")
			return nil
		},
	}
}

func newAgentsExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [name]",
		Short: "Export an agent definition as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverURL() + "/api/agents/" + args[0] + "/export")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("export failed with %d: %s", resp.StatusCode, body)
			}

			_, err = os.Stdout.Write(body)
			return err
		},
	}
}

func newAgentsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodDelete, serverURL()+"/api/agents/"+args[0], nil)
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
				return fmt.Errorf("delete failed with %d: %s", resp.StatusCode, body)
			}

			fmt.Println("agent deleted")
			return nil
		},
	}
}

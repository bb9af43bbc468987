package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	statusadapter "github.com/bnema/crawlpool/internal/adapters/render/status"
)

func newPoolCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect the proxy and account pools",
	}

	cmd.AddCommand(newPoolStatusCmd(app))

	return cmd
}

func newPoolStatusCmd(app *app) *cobra.Command {
	var asJSON bool
	var showAccounts bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show proxy lease counts and per-platform account states",
		RunE: func(cmd *cobra.Command, _ []string) error {
			status := app.service.Status()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			rendered, err := app.statusRenderer(status, statusadapter.RenderOptions{
				Now:          app.now(),
				ShowAccounts: showAccounts,
			})
			if err != nil {
				return fmt.Errorf("render status: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&showAccounts, "accounts", false, "List every account under its platform")

	return cmd
}

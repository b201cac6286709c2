package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axellelanca/linkcloak/cmd"
	"github.com/axellelanca/linkcloak/internal/database"
)

// MigrateCmd creates or updates the links, click_events and extension_codes tables.
var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Executes database migrations to create or update tables.",
	Long: `This command connects to the configured database (SQLite or Postgres)
and runs the GORM automatic migrations for links, click events and
extension codes.`,
	RunE: func(c *cobra.Command, args []string) error {
		db, err := cmd.OpenDatabase()
		if err != nil {
			return err
		}
		defer database.Close(db)

		fmt.Fprintln(c.OutOrStdout(), "Database migrations executed successfully.")
		return nil
	},
}

func init() {
	cmd.RootCmd.AddCommand(MigrateCmd)
}

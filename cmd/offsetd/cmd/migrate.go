package cmd

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the MySQL offsets table if it does not exist",
	RunE: func(cmd *cobra.Command, _ []string) error {
		mc := config.Store.MySQL
		mc.Migrate = true

		store, err := openMySQL(cmd.Context(), mc, log)
		if err != nil {
			return err
		}
		log.Info("Offsets table ready", "table", mc.Table)
		return store.Close()
	},
}

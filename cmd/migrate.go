package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"VKMBot/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the users and downloads tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := mustLoadConfig()
		if err := db.ConnectGormDB(cfg); err != nil {
			return err
		}
		defer db.CloseGormDB()

		if err := db.AutoMigrate(db.GormDB); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Schema is up to date (%s).\n", cfg.DBDriver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

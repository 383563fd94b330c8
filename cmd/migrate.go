package cmd

import (
	"github.com/spf13/cobra"

	"linkpipe/internal/config"
	"linkpipe/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd, "migrations", config.Config.ValidateMigrate)
		if err != nil {
			return err
		}

		if down, _ := cmd.Flags().GetBool("down"); down {
			return migrations.Down(cfg.DB.DSN, logger)
		}
		return migrations.Run(cfg.DB.DSN, logger)
	},
}

func init() {
	migrateCmd.Flags().Bool("down", false, "roll back every migration instead")
	rootCmd.AddCommand(migrateCmd)
}

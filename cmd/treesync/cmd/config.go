package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zeusync/treesync/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	Long: `config prints the configuration the other commands would run with:
the defaults, overlaid with the file given by --config.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if rootOpt.cfgFile != "" {
			loaded, err := loadConfig()
			if err != nil {
				return err
			}
			cfg = loaded
		}
		data, err := cfg.Encode()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}

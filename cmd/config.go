package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/chadiek/agent-playground/internal/config"
)

// newConfigCmd prints the effective configuration with secrets masked.
func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			cfg.Token = mask(cfg.Token)
			cfg.HTTPPassword = mask(cfg.HTTPPassword)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg)
		},
	}
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/nfscallback/internal/cli/output"
	"github.com/marmos91/nfscallback/pkg/config"
)

var showOutput string

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the effective configuration",
	Long: `Display the configuration after defaults and NFSCB_* environment
overrides have been applied.

Examples:
  nfscb config show
  NFSCB_CALLBACK_CALL_TIMEOUT=10s nfscb config show -o json`,
	RunE: runConfigShow,
}

func init() {
	showCmd.Flags().StringVarP(&showOutput, "output", "o", "yaml", "output format (yaml|json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	format, err := output.ParseFormat(showOutput)
	if err != nil {
		return err
	}
	if format == output.FormatJSON {
		return output.WriteJSON(cmd.OutOrStdout(), cfg)
	}
	return output.WriteYAML(cmd.OutOrStdout(), cfg)
}

package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfscallback/internal/adapter/nfs/rpc/gss"
	"github.com/marmos91/nfscallback/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE:  runConfigValidate,
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	displayPath := configPath
	if displayPath == "" {
		displayPath = config.GetDefaultConfigPath()
	}

	var warnings []string
	if cfg.Kerberos.Enabled {
		if _, err := gss.ParseService(cfg.Kerberos.Protection); err != nil {
			warnings = append(warnings, err.Error())
		}
	} else {
		warnings = append(warnings, "kerberos disabled: RPCSEC_GSS callbacks will be refused")
	}
	if cfg.Callback.SlotWait >= cfg.Callback.CallTimeout {
		warnings = append(warnings, fmt.Sprintf("slot_wait (%s) is not shorter than call_timeout (%s)",
			cfg.Callback.SlotWait, cfg.Callback.CallTimeout))
	}

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Configuration file: %s\n", displayPath)
	_, _ = fmt.Fprintln(out, "Validation: OK")
	if len(warnings) > 0 {
		_, _ = fmt.Fprintln(out, "\nWarnings:")
		for _, w := range warnings {
			_, _ = fmt.Fprintf(out, "  - %s\n", w)
		}
	}
	return nil
}

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-hlod/internal/config"
)

var (
	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration",
	}

	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE:  showConfig,
	}

	configSaveCmd = &cobra.Command{
		Use:   "save [path]",
		Short: "Write the effective configuration to a file",
		Long: `Write the effective configuration (defaults, config file and flags merged)
to path, or to the user config directory when no path is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: saveConfig,
	}
)

func init() {
	configCmd.AddCommand(configShowCmd, configSaveCmd)
}

func showConfig(cmd *cobra.Command, _ []string) error {
	cfg, path, err := config.Load(&flags)
	if err != nil {
		return err
	}
	if path != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "# loaded from %s\n", path)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func saveConfig(cmd *cobra.Command, args []string) error {
	cfg, _, err := config.Load(&flags)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		if err := cfg.Save(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "saved to %s\n", filepath.Join(config.ConfigDir(), "hlod.yaml"))
		return nil
	}
	if err := cfg.SaveTo(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved to %s\n", args[0])
	return nil
}

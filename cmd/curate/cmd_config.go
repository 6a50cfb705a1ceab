package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/csdoge22/feedbackcurate/internal/config"
)

var configInitFlags struct {
	path  string
	force bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to curate.yaml",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration after file and environment overrides",
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := yaml.Marshal(redacted(cfg))
		if err != nil {
			return fmt.Errorf("encoding config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	f := configInitCmd.Flags()
	f.StringVar(&configInitFlags.path, "path", "curate.yaml", "where to write the config")
	f.BoolVar(&configInitFlags.force, "force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if !configInitFlags.force {
		if _, err := os.Stat(configInitFlags.path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configInitFlags.path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	if err := config.Write(configInitFlags.path, config.Default()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configInitFlags.path)
	return nil
}

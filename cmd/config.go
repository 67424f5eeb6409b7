package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"coderag/internal/config"
)

var (
	flagConfigPath      string
	flagConfigOverwrite bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the coderag configuration file",
	// Subcommands load the configuration themselves.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := flagConfigPath
		if path == "" {
			path = filepath.Join(config.DefaultDataDir, config.FileName)
		}
		if err := config.WriteFile(path, config.Default(), flagConfigOverwrite); err != nil {
			if errors.Is(err, config.ErrExists) {
				return fmt.Errorf("%w (use --force to overwrite)", err)
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, used, err := config.Load(config.Options{
			File:     flagConfig,
			Flags:    cmd.Flags(),
			FlagKeys: flagKeys,
		})
		if err != nil {
			return err
		}
		redacted := *c
		if redacted.Embedding.APIKey != "" {
			redacted.Embedding.APIKey = "********"
		}
		if redacted.LLM.APIKey != "" {
			redacted.LLM.APIKey = "********"
		}
		if redacted.Cache.Redis.Password != "" {
			redacted.Cache.Redis.Password = "********"
		}
		data, err := toml.Marshal(&redacted)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if used == "" {
			used = "(none, built-in defaults)"
		}
		fmt.Fprintf(out, "# config file: %s\n", used)
		fmt.Fprint(out, string(data))
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&flagConfigPath, "path", "", "file to write (default ./.coderag/coderag.toml)")
	configInitCmd.Flags().BoolVar(&flagConfigOverwrite, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

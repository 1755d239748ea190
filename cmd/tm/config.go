package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/taskmasterpro/tm/internal/config"
	"github.com/taskmasterpro/tm/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Show or create the client configuration",
	Long: `Configuration is read from, in increasing priority:

  1. Built-in defaults
  2. ~/.taskmaster/config.yaml
  3. ./.taskmaster/config.yaml
  4. Environment variables (TM_SYNC_POLICY, TM_API_BASE_URL, ...)

--config replaces files 2 and 3. Files may be YAML or TOML, chosen by
extension.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		if jsonOutput {
			format = config.FormatJSON
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return config.Render(os.Stdout, cfg, format)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		project, _ := cmd.Flags().GetBool("project")

		path := configPath
		switch {
		case path != "":
		case project:
			path = config.ProjectConfigPath()
		default:
			path = config.GlobalConfigPath()
		}
		if err := config.WriteDefault(path, force); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the configuration and data locations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		paths := map[string]string{
			"global":    config.GlobalConfigPath(),
			"project":   config.ProjectConfigPath(),
			"database":  cfg.DBPath(),
			"log":       cfg.LogPath(),
			"stateFile": cfg.StateFilePath(),
		}
		if configPath != "" {
			paths["explicit"] = configPath
		}
		if jsonOutput {
			return printJSON(paths)
		}
		for _, k := range []string{"explicit", "global", "project", "database", "log", "stateFile"} {
			if v, ok := paths[k]; ok {
				fmt.Printf("%-10s %s\n", k+":", v)
			}
		}
		return nil
	},
}

func init() {
	configShowCmd.Flags().String("format", config.FormatYAML, "Output format: yaml, toml or json")
	configInitCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file")
	configInitCmd.Flags().Bool("project", false, "Write ./.taskmaster/config.yaml instead of the global file")

	configCmd.AddCommand(configShowCmd, configInitCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}

package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the image transformation service configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write config.yaml with built-in defaults for the core/storage/transform/cache modules.
With --force and an existing configuration, the loaded configuration (missing
fields filled from the defaults) is written back to config.yaml; it is not
reset to the defaults.`,
	RunE: runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration document.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for obvious errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().BoolP("force", "f", false, "overwrite an existing configuration file")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")

	if cfgMgr.Exists() && !force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", cfgMgr.GetPath())
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	if err := cfgMgr.Save(cfg); err != nil {
		return err
	}

	color.Green("Wrote configuration to %s", cfgMgr.GetPath())
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	fmt.Println(string(data))
	return nil
}

func runConfigValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}

	if len(cfg.Storage.Priority) == 0 {
		return fmt.Errorf("storage.priority must name at least one source")
	}

	for _, name := range cfg.Storage.Priority {
		switch name {
		case "r2", "remote", "fallback":
		default:
			return fmt.Errorf("storage.priority references unknown source %q", name)
		}
	}

	if cfg.Cache.TTL.MinTTL > cfg.Cache.TTL.MaxTTL {
		return fmt.Errorf("cache.ttl.minTtl (%d) exceeds cache.ttl.maxTtl (%d)", cfg.Cache.TTL.MinTTL, cfg.Cache.TTL.MaxTTL)
	}

	color.Green("Configuration is valid")
	return nil
}

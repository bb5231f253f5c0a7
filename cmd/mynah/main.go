package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/mynahbot/mynah/pkg/config"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
)

const logo = "🐦"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "mynah",
		Short:         "Text-to-speech chat bot with custom voice enrollment",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")

	root.AddCommand(
		newRunCommand(),
		newInitCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".mynah", "config.json")
}

func loadConfig() (*config.Config, error) {
	return config.LoadConfig(configPath)
}

func newInitCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil {
				return fmt.Errorf("config already exists at %s", configPath)
			}
			if err := config.SaveConfig(configPath, config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("%s Config written to %s\n", logo, configPath)
			fmt.Println("Fill in a channel token and run: mynah run")
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Printf("%s mynah configuration\n\n", logo)
			fmt.Printf("Config file: %s\n", configPath)
			fmt.Printf("Data dir: %s\n", cfg.DataPath())
			fmt.Printf("Database: %s\n", cfg.DatabasePath())
			fmt.Println("\nChannels:")
			fmt.Printf("  Telegram: %v\n", cfg.Channels.Telegram.Enabled)
			fmt.Printf("  Discord: %v\n", cfg.Channels.Discord.Enabled)
			fmt.Println("\nEngine:")
			fmt.Printf("  Base URL: %s\n", cfg.Engine.BaseURL)
			fmt.Printf("  Keep cache: %v\n", cfg.Engine.KeepCache)
			fmt.Printf("  Clip limit: %d chars\n", cfg.Engine.ClipCharLimit)
			fmt.Println("\nVoices:")
			fmt.Printf("  Default: %s\n", cfg.Voices.DefaultVoice)
			fmt.Printf("  Builtin: %d\n", len(cfg.Voices.BuiltinVoices))
			fmt.Printf("  Max per user: %d\n", cfg.Voices.MaxPerUser)
			fmt.Printf("\nWhisper: %v\n", cfg.Whisper.Enabled)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			v := version
			if gitCommit != "" {
				v += fmt.Sprintf(" (git: %s)", gitCommit)
			}
			fmt.Printf("%s mynah %s\n", logo, v)
			if buildTime != "" {
				fmt.Printf("  Build: %s\n", buildTime)
			}
			fmt.Printf("  Go: %s\n", runtime.Version())
		},
	}
}

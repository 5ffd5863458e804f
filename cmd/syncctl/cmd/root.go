package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatsyncd/pkg/cache"
	"chatsyncd/pkg/config"
	"chatsyncd/pkg/logger"
	"chatsyncd/pkg/syncer"
)

// version can be overridden at build time via:
// go build -ldflags "-X chatsyncd/cmd/syncctl/cmd.version=1.2.3"
var version = "dev"

var logo = "\n" +
	"                        _   _ \n" +
	"  ___ _   _ _ __   ___| |_| |\n" +
	" / __| | | | '_ \\ / __| __| |\n" +
	" \\__ \\ |_| | | | | (__| |_| |\n" +
	" |___/\\__, |_| |_|\\___|\\__|_|\n" +
	"      |___/\n"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Chat history sync client",
	Long:  color.CyanString(logo) + "\nCommand-line client for a chat-sync server.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./config.yaml or CHATSYNC_CONFIG)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(watchCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

// loadClientConfig loads the effective config for client commands.
func loadClientConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.ResolveConfigPath("./config.yaml", false)
	}
	cfg, _, err := config.LoadEffective(path)
	if err != nil {
		return nil, err
	}
	logger.InitWithLevel(cfg.Logging.Level)
	return cfg, nil
}

// openCoordinator builds the sync coordinator plus its local cache from the
// client config block.
func openCoordinator(cfg *config.Config) (*syncer.Coordinator, *cache.Cache, error) {
	cachePath := cfg.Client.CachePath
	if cachePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, err
		}
		cachePath = filepath.Join(home, ".chatsync", "cache")
	}
	lc, err := cache.Open(cachePath)
	if err != nil {
		return nil, nil, err
	}
	co, err := syncer.New(syncer.Config{
		BaseURL:  cfg.Client.BaseURL,
		Username: cfg.Client.Username,
		Password: cfg.Client.Password,
		AgentID:  cfg.Client.AgentID,
	}, lc)
	if err != nil {
		lc.Close()
		return nil, nil, err
	}
	return co, lc, nil
}

func fail(err error) {
	fmt.Println(color.RedString("error: %v", err))
	os.Exit(1)
}

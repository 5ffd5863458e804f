package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadClientConfig()
		if err != nil {
			fail(err)
		}
		co, lc, err := openCoordinator(cfg)
		if err != nil {
			fail(err)
		}
		defer lc.Close()

		printHeader("Server status")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		info, err := co.Client().Status(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Service:  %s\n", info.Service)
		fmt.Printf("Version:  %s\n", info.Version)
		fmt.Printf("Time:     %s\n", time.UnixMilli(info.Timestamp).Format(time.RFC3339))

		agents, err := co.Client().ListAgents(ctx)
		if err != nil {
			fail(err)
		}
		fmt.Printf("Agents:   %d\n", len(agents))
		fmt.Println(color.GreenString("Server reachable"))
	},
}

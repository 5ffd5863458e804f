package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var listDesktop bool

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List agents known to the server",
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

		ctx := context.Background()
		if listDesktop {
			agents, err := co.Client().ListDesktopAgents(ctx)
			if err != nil {
				fail(err)
			}
			for _, a := range agents {
				fmt.Printf("%s %s (%d topics)\n", color.CyanString(a.AgentDirID), a.Name, len(a.Topics))
			}
			return
		}
		agents, err := co.Client().ListAgents(ctx)
		if err != nil {
			fail(err)
		}
		for _, id := range agents {
			fmt.Println(id)
		}
	},
}

func init() {
	agentsCmd.Flags().BoolVar(&listDesktop, "desktop", false, "list desktop agents through the bridge instead")
}

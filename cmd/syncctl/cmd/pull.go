package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pullCmd = &cobra.Command{
	Use:   "pull <topicId>",
	Short: "Replace the local copy of a topic with the server's log",
	Args:  cobra.ExactArgs(1),
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

		msgs, err := co.PullHistory(context.Background(), args[0])
		if err != nil {
			fail(err)
		}
		fmt.Printf("%s %d message(s)\n", color.GreenString("pulled"), len(msgs))
	},
}

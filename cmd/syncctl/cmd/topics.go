package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatsyncd/pkg/models"
	"chatsyncd/pkg/utils"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the agent's topics on the server",
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

		topics, err := co.Client().GetTopics(context.Background(), cfg.Client.AgentID)
		if err != nil {
			fail(err)
		}
		if len(topics) == 0 {
			fmt.Println("no topics")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tCREATED")
		for _, t := range topics {
			created := ""
			if t.CreatedAt > 0 {
				created = time.UnixMilli(t.CreatedAt).Format("2006-01-02 15:04")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", t.Key(), t.Name, created)
		}
		w.Flush()
	},
}

var topicsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a topic in the server registry",
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

		topic := models.Topic{
			ID:        utils.GenTopicID(),
			Name:      args[0],
			CreatedAt: utils.NowMillis(),
		}
		if _, err := co.PushTopics(context.Background(), []models.Topic{topic}); err != nil {
			fail(err)
		}
		fmt.Printf("%s %s (%s)\n", color.GreenString("created"), topic.Name, topic.ID)
	},
}

func init() {
	topicsCmd.AddCommand(topicsAddCmd)
}

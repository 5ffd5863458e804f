package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatsyncd/pkg/models"
	"chatsyncd/pkg/syncer"
	"chatsyncd/pkg/utils"
)

var syncCmd = &cobra.Command{
	Use:   "sync [topicId...]",
	Short: "Synchronize topics with the server",
	Long:  "Runs an incremental sync round for the given topics, or for every topic in the server's registry when none are named.",
	Run:   runSync,
}

func runSync(cmd *cobra.Command, args []string) {
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
	registry, err := co.Client().GetTopics(ctx, cfg.Client.AgentID)
	if err != nil {
		fail(err)
	}

	var topics []models.Topic
	if len(args) == 0 {
		for _, t := range registry {
			if t.Key() != "" {
				topics = append(topics, t)
			}
		}
	} else {
		// named topics keep their registry entry; unknown ids get a stub
		// so the registry push registers them
		byKey := make(map[string]models.Topic, len(registry))
		for _, t := range registry {
			byKey[t.Key()] = t
		}
		for _, id := range args {
			if t, ok := byKey[id]; ok {
				topics = append(topics, t)
			} else {
				topics = append(topics, models.Topic{ID: id, CreatedAt: utils.NowMillis()})
			}
		}
	}
	if len(topics) == 0 {
		fmt.Println("nothing to sync")
		return
	}

	printHeader(fmt.Sprintf("Syncing %d topic(s)", len(topics)))
	failed := 0
	err = co.FullSync(ctx, topics, func(p syncer.Progress) {
		if p.Outcome.Err != nil {
			failed++
			fmt.Printf("[%d/%d] %s %s\n", p.Index+1, p.Total, p.TopicID, color.RedString("failed: %v", p.Outcome.Err))
			return
		}
		fmt.Printf("[%d/%d] %s %s (up %d, down %d, total %d)\n",
			p.Index+1, p.Total, p.TopicID, color.GreenString("ok"),
			p.Outcome.NewFromClient, len(p.Outcome.ServerNewMessages), p.Outcome.MergedCount)
	})
	if failed > 0 {
		fmt.Println(color.YellowString("%d topic(s) failed; cursors untouched, retry is safe", failed))
	}
	if err != nil && failed == 0 {
		fail(err)
	}
}

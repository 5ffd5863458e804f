package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatsyncd/pkg/push"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Listen for pushed messages and merge them into the local cache",
	Long:  "Keeps a push connection open and applies arriving messages through the same merge path a sync round uses. Anything missed while disconnected is picked up by the next sync.",
	Run:   runWatch,
}

func runWatch(cmd *cobra.Command, args []string) {
	cfg, err := loadClientConfig()
	if err != nil {
		fail(err)
	}
	if cfg.Client.PushURL == "" {
		fail(fmt.Errorf("client.push_url is not configured"))
	}
	co, lc, err := openCoordinator(cfg)
	if err != nil {
		fail(err)
	}
	defer lc.Close()

	printHeader("Watching " + cfg.Client.PushURL)

	listener := push.New(push.Config{
		URL:      cfg.Client.PushURL,
		Username: cfg.Client.Username,
		Password: cfg.Client.Password,
		OnEvent: func(ev push.Event) {
			if len(ev.Messages) == 0 {
				return
			}
			if ev.AgentID != "" && ev.AgentID != cfg.Client.AgentID {
				return
			}
			n, err := co.ApplyIncoming(ev.TopicID, ev.Messages)
			if err != nil {
				fmt.Println(color.RedString("apply failed for %s: %v", ev.TopicID, err))
				return
			}
			if n > 0 {
				fmt.Printf("%s %d new message(s) in %s\n", color.GreenString("received"), n, ev.TopicID)
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener.Connect(ctx)
	<-ctx.Done()
	listener.Close()
	fmt.Println("stopped")
}

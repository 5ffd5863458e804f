package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"chatsyncd/pkg/merge"
	"chatsyncd/pkg/models"
	"chatsyncd/pkg/utils"
)

var sendCmd = &cobra.Command{
	Use:   "send <topicId> <text>",
	Short: "Compose a message into the local cache",
	Long:  "Appends a user message to the cached history for a topic. The message is uploaded on the next sync round, so composing works offline.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadClientConfig()
		if err != nil {
			fail(err)
		}
		_, lc, err := openCoordinator(cfg)
		if err != nil {
			fail(err)
		}
		defer lc.Close()

		topicID := args[0]
		msg := models.Message{
			ID:        utils.GenMessageID(),
			Role:      models.RoleUser,
			Content:   args[1],
			Timestamp: utils.NowMillis(),
		}

		existing, err := lc.Messages(cfg.Client.AgentID, topicID)
		if err != nil {
			fail(err)
		}
		merged, _ := merge.Messages(existing, []models.Message{msg})
		if err := lc.PutMessages(cfg.Client.AgentID, topicID, merged); err != nil {
			fail(err)
		}
		fmt.Printf("%s %s in %s (queued for next sync)\n", color.GreenString("composed"), msg.ID, topicID)
	},
}

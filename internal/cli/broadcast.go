package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sketchmaster/sketchbot/pkg/bot"
	apperrors "github.com/sketchmaster/sketchbot/pkg/errors"
)

// broadcastCommand creates the broadcast command, the terminal version of
// /broadcast.
func (c *CLI) broadcastCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "broadcast <message...>",
		Short: "Send a message to every user",
		Long: `Send a message, prefixed with the admin banner, to every user in the store.

Users who blocked the bot are counted as failed. The message is sent with
Markdown formatting, like /broadcast in the chat.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if err := apperrors.ValidateBroadcastMessage(text); err != nil {
				return err
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := c.openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("open user store: %w", err)
			}
			defer store.Close()

			if dryRun {
				list, err := store.List(ctx)
				if err != nil {
					return err
				}
				printInfo("Would send to %s users", StyleNumber.Render(fmt.Sprint(len(list))))
				return nil
			}

			if err := cfg.RequireToken(); err != nil {
				return err
			}
			api, err := bot.NewAPI(cfg.Bot.Token, nil)
			if err != nil {
				return fmt.Errorf("connect to telegram: %w", err)
			}
			b := bot.New(api, nil, store, c.botOptions(cfg))

			spinner := newSpinnerWithContext(ctx, "Broadcasting...")
			spinner.Start()
			res, err := b.Broadcast(ctx, text)
			spinner.Stop()
			if err != nil {
				return err
			}

			printSuccess("Broadcast complete")
			printKeyValue("Sent", StyleNumber.Render(fmt.Sprint(res.Sent)))
			printKeyValue("Failed", StyleNumber.Render(fmt.Sprint(res.Failed)))
			printKeyValue("Total", StyleNumber.Render(fmt.Sprint(res.Total)))
			printDetail("Took %s", res.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only count the recipients")

	return cmd
}

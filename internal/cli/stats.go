package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sketchmaster/sketchbot/pkg/users"
)

// statsCommand creates the stats command, the terminal version of /stats.
func (c *CLI) statsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show usage statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			store, err := c.openStore(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("open user store: %w", err)
			}
			defer store.Close()

			st, err := users.Summarize(cmd.Context(), store, time.Now())
			if err != nil {
				return err
			}

			fmt.Println(StyleTitle.Render("Bot Statistics"))
			printKeyValue("Users", StyleNumber.Render(fmt.Sprint(st.TotalUsers)))
			printKeyValue("Active (7d)", StyleNumber.Render(fmt.Sprint(st.ActiveUsers)))
			printKeyValue("Images", StyleNumber.Render(fmt.Sprint(st.TotalImages)))
			printKeyValue("Avg/user", StyleNumber.Render(fmt.Sprintf("%.1f", st.AverageImages)))

			if st.TotalUsers == 0 {
				printNewline()
				printNextStep("No users yet; start the bot with", appName+" serve")
			}
			return nil
		},
	}
}

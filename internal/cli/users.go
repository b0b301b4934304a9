package cli

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

// usersCommand creates the users command for browsing the user list.
func (c *CLI) usersCommand() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Browse known users",
		Long: `Browse the users the bot has seen, with their image counts and activity.

Without --plain an interactive table opens; press s to change the sort order.`,
		Args: cobra.NoArgs,
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

			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			now := time.Now()

			if plain {
				return writeUserTable(cmd.OutOrStdout(), list, now)
			}
			if len(list) == 0 {
				printInfo("No users yet")
				return nil
			}
			_, err = tea.NewProgram(NewUserListModel(list, now), tea.WithContext(cmd.Context())).Run()
			return err
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "print a static table instead of the interactive view")

	return cmd
}

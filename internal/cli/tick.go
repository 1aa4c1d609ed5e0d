package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"meetbot/internal/app"
)

func NewTickCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Evaluate the current minute once and deliver its notifications",
		Long: `Evaluate the current minute once, deliver any due notifications and exit.

Meant for setups that drive meetbot from cron or a systemd timer instead of
running it as a service. Catch-up applies when the previous tick was recorded
by a long-running instance; a fresh process evaluates only the current minute.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(root.Config)
			if err != nil {
				return err
			}
			res, err := a.TickOnce(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(root, cmd.OutOrStdout()).print(res, func(w io.Writer) {
				fmt.Fprintf(w, "%s: evaluated %d meeting(s), fired %d, retired %d\n",
					res.At.Format("2006-01-02 15:04 MST"), res.Evaluated, res.Fired, res.Retired)
			})
		},
	}
}

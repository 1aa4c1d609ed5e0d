package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"meetbot/internal/meeting"
)

func NewUpcomingCommand(root *RootOptions) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "List meeting occurrences in the coming window",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if window <= 0 {
				return fmt.Errorf("--within must be positive")
			}
			env, err := openStoreEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			ms, err := env.meetings.List(cmd.Context())
			if err != nil {
				return err
			}
			now := env.now()
			occ, err := meeting.Upcoming(now, now.Add(window), ms)
			if err != nil {
				return err
			}
			type row struct {
				At       time.Time `json:"at"`
				ID       string    `json:"id"`
				Name     string    `json:"name"`
				Division string    `json:"division"`
			}
			rows := make([]row, 0, len(occ))
			for _, o := range occ {
				rows = append(rows, row{At: o.At, ID: o.Meeting.ID, Name: o.Meeting.Name, Division: o.Meeting.Division})
			}
			return newPrinter(root, cmd.OutOrStdout()).print(rows, func(w io.Writer) {
				if len(rows) == 0 {
					fmt.Fprintf(w, "Nothing within %s.\n", window)
					return
				}
				fmt.Fprintln(w, "WHEN\tNAME\tDIVISION")
				for _, r := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.At.Format("Mon Jan 2 15:04"), r.Name, r.Division)
				}
			})
		},
	}
	cmd.Flags().DurationVar(&window, "within", 7*24*time.Hour, "look-ahead window")
	return cmd
}

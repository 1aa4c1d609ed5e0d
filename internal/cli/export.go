package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meetbot/internal/calendar"
	"meetbot/internal/meeting"
)

func NewExportCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export meetings to other formats",
	}
	cmd.AddCommand(newExportICSCommand(root))
	return cmd
}

func newExportICSCommand(root *RootOptions) *cobra.Command {
	var (
		out      string
		name     string
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ics",
		Short: "Write meetings as an iCalendar file",
		Long: `Write meetings as an iCalendar file. Weekly meetings carry an RRULE;
one-off meetings that already passed are left out.

Example:
  meetbot export ics -o meetings.ics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openStoreEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			ds, err := env.dir.List(cmd.Context())
			if err != nil {
				return err
			}
			byName := make(map[string]meeting.Division, len(ds))
			for _, d := range ds {
				byName[d.Name] = d
			}
			opt := calendar.Options{Name: name, Duration: duration, Divisions: byName}
			n, err := calendar.Export(cmd.Context(), w, env.store, env.now(), opt)
			if err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %d event(s) to %s\n", n, out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "output file (- for stdout)")
	cmd.Flags().StringVar(&name, "name", "Meetings", "calendar name")
	cmd.Flags().DurationVar(&duration, "duration", calendar.DefaultDuration, "event length")
	return cmd
}

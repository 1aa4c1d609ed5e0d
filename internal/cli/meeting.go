package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"meetbot/internal/meeting"
)

type meetingAddOptions struct {
	Name      string
	Division  string
	Date      string
	Time      string
	AMPM      string
	Recurring bool
	HeadsUp   bool
}

func NewMeetingCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "meeting",
		Aliases: []string{"meetings"},
		Short:   "Manage meetings",
	}
	cmd.AddCommand(newMeetingAddCommand(root))
	cmd.AddCommand(newMeetingListCommand(root))
	cmd.AddCommand(newMeetingRemoveCommand(root))
	return cmd
}

func newMeetingAddCommand(root *RootOptions) *cobra.Command {
	opts := &meetingAddOptions{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a meeting",
		Long: `Schedule a one-off or weekly meeting.

--date accepts today, tomorrow, MM/DD, MM-DD, MM/DD/YYYY or MM-DD-YYYY.
--time accepts now, Nhr (N hours from now) or H[:MM] together with --ampm.
A weekly meeting repeats on the weekday of --date.

Example:
  meetbot meeting add --name Standup --division eng --date tomorrow --time 9:30 --ampm AM
  meetbot meeting add --name Sync --division eng --date 01/08 --time 2 --ampm PM --recurring`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openStoreEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			at, err := meeting.ParseWhen(opts.Date, opts.Time, opts.AMPM, env.now())
			if err != nil {
				return err
			}
			if _, err := env.dir.Resolve(cmd.Context(), opts.Division); err != nil {
				env.log.Warn("division is not known yet; notifications are skipped until it exists")
			}
			m, err := env.meetings.Create(cmd.Context(), meeting.CreateInput{
				Name:        opts.Name,
				Division:    opts.Division,
				At:          at,
				Recurring:   opts.Recurring,
				SendHeadsUp: opts.HeadsUp,
			})
			if err != nil {
				return err
			}
			p := newPrinter(root, cmd.OutOrStdout())
			return p.print(m, func(w io.Writer) {
				fmt.Fprintf(w, "Scheduled %s (%s) at %s\n", m.Name, m.ID, at.Format("Mon Jan 2 2006 15:04 MST"))
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Name, "name", "n", "", "meeting name (required)")
	cmd.Flags().StringVarP(&opts.Division, "division", "d", "", "division to notify (required)")
	cmd.Flags().StringVar(&opts.Date, "date", "today", "meeting date")
	cmd.Flags().StringVar(&opts.Time, "time", "", "meeting time (required)")
	cmd.Flags().StringVar(&opts.AMPM, "ampm", "", "AM or PM for --time H[:MM]")
	cmd.Flags().BoolVar(&opts.Recurring, "recurring", false, "repeat weekly")
	cmd.Flags().BoolVar(&opts.HeadsUp, "heads-up", true, "send a heads-up five minutes before")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("division")
	_ = cmd.MarkFlagRequired("time")
	return cmd
}

func newMeetingListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List meetings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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
			return newPrinter(root, cmd.OutOrStdout()).print(ms, func(w io.Writer) {
				if len(ms) == 0 {
					fmt.Fprintln(w, "No meetings scheduled.")
					return
				}
				fmt.Fprintln(w, "ID\tNAME\tDIVISION\tREPEAT\tHEADS-UP\tNEXT")
				for _, m := range ms {
					next := "passed"
					if at, ok := meeting.NextOccurrence(now, m); ok {
						next = at.Format("Mon Jan 2 15:04")
					}
					repeat := "once"
					if m.Recurring {
						repeat = "weekly"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n", m.ID, m.Name, m.Division, repeat, m.SendHeadsUp, next)
				}
			})
		},
	}
}

func newMeetingRemoveCommand(root *RootOptions) *cobra.Command {
	var byName bool
	cmd := &cobra.Command{
		Use:     "rm <id|name>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a meeting by id, or every meeting with a name (--name)",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openStoreEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			p := newPrinter(root, cmd.OutOrStdout())
			if byName {
				n, err := env.meetings.DeleteByName(cmd.Context(), args[0])
				if err != nil {
					return deleteErr(err, args[0])
				}
				return p.print(map[string]any{"name": args[0], "deleted": n}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted %d meeting(s) named %q\n", n, args[0])
				})
			}
			if err := env.meetings.DeleteByID(cmd.Context(), args[0]); err != nil {
				return deleteErr(err, args[0])
			}
			return p.print(map[string]any{"id": args[0], "deleted": 1}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted meeting %s\n", args[0])
			})
		},
	}
	cmd.Flags().BoolVar(&byName, "name", false, "treat the argument as a meeting name")
	return cmd
}

func deleteErr(err error, target string) error {
	if errors.Is(err, meeting.ErrNotFound) {
		return fmt.Errorf("no meeting matches %q", target)
	}
	return err
}

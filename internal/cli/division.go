package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"meetbot/internal/meeting"
)

func NewDivisionCommand(root *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "division",
		Aliases: []string{"divisions"},
		Short:   "Manage divisions stored alongside meetings",
		Long: `Manage divisions stored alongside meetings.

Divisions listed in the config file take precedence over stored ones with the
same name; "division list" shows the merged view.`,
	}
	cmd.AddCommand(newDivisionAddCommand(root))
	cmd.AddCommand(newDivisionListCommand(root))
	cmd.AddCommand(newDivisionRemoveCommand(root))
	return cmd
}

func newDivisionAddCommand(root *RootOptions) *cobra.Command {
	var d meeting.Division
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create or update a division",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openStoreEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			d.Name = args[0]
			if err := env.meetings.AddDivision(cmd.Context(), d); err != nil {
				return err
			}
			return newPrinter(root, cmd.OutOrStdout()).print(d, func(w io.Writer) {
				fmt.Fprintf(w, "Saved division %s -> %s\n", d.Name, d.ChannelID)
			})
		},
	}
	cmd.Flags().StringVar(&d.ChannelID, "channel", "", "text channel notifications go to (required)")
	cmd.Flags().StringVar(&d.RoleID, "role", "", "audience mentioned in notifications")
	cmd.Flags().StringVar(&d.VoiceChannelID, "voice", "", "channel the meeting takes place in")
	_ = cmd.MarkFlagRequired("channel")
	return cmd
}

func newDivisionListCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List divisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := openStoreEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			ds, err := env.dir.List(cmd.Context())
			if err != nil {
				return err
			}
			return newPrinter(root, cmd.OutOrStdout()).print(ds, func(w io.Writer) {
				if len(ds) == 0 {
					fmt.Fprintln(w, "No divisions configured.")
					return
				}
				fmt.Fprintln(w, "NAME\tCHANNEL\tROLE\tVOICE")
				for _, d := range ds {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Name, d.ChannelID, d.RoleID, d.VoiceChannelID)
				}
			})
		},
	}
}

func newDivisionRemoveCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove", "delete"},
		Short:   "Delete a stored division",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openStoreEnv(root)
			if err != nil {
				return err
			}
			defer env.Close()

			if err := env.meetings.RemoveDivision(cmd.Context(), args[0]); err != nil {
				return err
			}
			newPrinter(root, cmd.OutOrStdout()).line("Deleted division %s", args[0])
			return nil
		},
	}
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAttendanceCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attendance",
		Short: "Show or mark attendance",
	}
	cmd.PersistentFlags().String("date", "", "attendance date, YYYY-MM-DD (default today)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show every member's status on the date",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				d, err := a.dashboard(cmd)
				if err != nil {
					return err
				}
				if err := d.Load(cmd.Context()); err != nil {
					return err
				}
				renderRows(cmd.OutOrStdout(), d)
				return nil
			},
		},
		&cobra.Command{
			Use:   "status <member-id>",
			Short: "Show one member's status on the date",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := a.requireSession(); err != nil {
					return err
				}
				date, err := dateFlag(cmd)
				if err != nil {
					return err
				}
				st, err := a.client.MemberAttendance(cmd.Context(), args[0], date)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s on %s: %s\n", args[0], date, st)
				return nil
			},
		},
		&cobra.Command{
			Use:   "toggle <member-id>",
			Short: "Flip a member between present and absent on the date",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.dashboard(cmd)
				if err != nil {
					return err
				}
				if err := d.Toggle(cmd.Context(), args[0]); err != nil {
					return err
				}
				for _, r := range d.Rows() {
					if r.Member.ID == args[0] {
						fmt.Fprintf(cmd.OutOrStdout(), "%s is %s on %s\n", r.Member.Name, r.Status, d.Date())
					}
				}
				return nil
			},
		},
	)
	return cmd
}

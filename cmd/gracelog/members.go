package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"gracelog/internal/dashboard"
)

func newMembersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "members",
		Aliases: []string{"ls"},
		Short:   "List members with their attendance on a date",
		Args:    cobra.NoArgs,
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
	}
	cmd.PersistentFlags().String("date", "", "attendance date, YYYY-MM-DD (default today)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name> <email>",
			Short: "Register a member",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.dashboard(cmd)
				if err != nil {
					return err
				}
				if strings.TrimSpace(args[0]) == "" || strings.TrimSpace(args[1]) == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "name and email are required; nothing added")
					if err := d.Load(cmd.Context()); err != nil {
						return err
					}
				} else if err := d.AddMember(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				renderRows(cmd.OutOrStdout(), d)
				return nil
			},
		},
		&cobra.Command{
			Use:     "rm <member-id>",
			Aliases: []string{"delete"},
			Short:   "Remove a member and their attendance history",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				d, err := a.dashboard(cmd)
				if err != nil {
					return err
				}
				if err := d.DeleteMember(cmd.Context(), args[0]); err != nil {
					return err
				}
				renderRows(cmd.OutOrStdout(), d)
				return nil
			},
		},
	)
	return cmd
}

// dashboard builds a dashboard for --date once the session check passes.
func (a *app) dashboard(cmd *cobra.Command) (*dashboard.Dashboard, error) {
	if err := a.requireSession(); err != nil {
		return nil, err
	}
	date, err := dateFlag(cmd)
	if err != nil {
		return nil, err
	}
	return dashboard.New(a.client, date), nil
}

func renderRows(w io.Writer, d *dashboard.Dashboard) {
	rows := d.Rows()
	fmt.Fprintf(w, "Attendance for %s\n", d.Date())
	if len(rows) == 0 {
		fmt.Fprintln(w, "No members yet. Add one with `gracelog members add <name> <email>`.")
		return
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Name", "Email", "Status"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	for _, r := range rows {
		table.Append([]string{r.Member.ID, r.Member.Name, r.Member.Email, string(r.Status)})
	}
	table.Render()
}

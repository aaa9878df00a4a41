package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check the API and show who is signed in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if err := a.client.Health(cmd.Context()); err != nil {
				fmt.Fprintf(out, "API %s: unreachable (%v)\n", a.client.BaseURL, err)
			} else {
				fmt.Fprintf(out, "API %s: ok\n", a.client.BaseURL)
			}
			if sess := a.gate.Session(); sess != nil {
				fmt.Fprintf(out, "Signed in as %s\n", sess.User.Email)
			} else {
				fmt.Fprintln(out, "Not signed in")
			}
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sign-ins, refreshes and sign-outs for this account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			entries, err := a.client.SessionHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No session history recorded.")
				return nil
			}
			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"#", "Event", "At"})
			table.SetBorder(false)
			for i, e := range entries {
				table.Append([]string{strconv.Itoa(i + 1), string(e.Event), e.At.Local().Format("2006-01-02 15:04:05")})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "how many entries to show")
	return cmd
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gracelog/internal/attendance"
	"gracelog/internal/client"
	"gracelog/internal/gate"
	"gracelog/internal/session"
)

var errSignedOut = errors.New("not signed in; run `gracelog signin` first")

// app is the state shared by every subcommand for one invocation.
type app struct {
	apiURL      string
	sessionPath string
	verbose     bool

	log    *zap.Logger
	bus    *session.InMemory
	client *client.Client
	gate   *gate.Gate
	store  sessionFile
	// loaded is the session read at startup
	loaded *session.Session
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "gracelog",
		Short:         "Track church attendance from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
	}
	root.PersistentFlags().StringVar(&a.apiURL, "api", envOr("GRACELOG_API_URL", "http://localhost:8081"), "GraceLog API base URL")
	root.PersistentFlags().StringVar(&a.sessionPath, "session-file", "", "where the session is stored (default: user config dir)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log debug output")

	root.AddCommand(
		newSignUpCmd(a),
		newSignInCmd(a),
		newSignOutCmd(a),
		newWhoAmICmd(a),
		newStatusCmd(a),
		newHistoryCmd(a),
		newWatchCmd(a),
		newMembersCmd(a),
		newAttendanceCmd(a),
	)
	return root, a
}

func (a *app) open(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := zap.NewDevelopmentConfig()
	if !a.verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return err
	}
	a.log = log

	if a.sessionPath == "" {
		if a.sessionPath, err = defaultSessionPath(); err != nil {
			return err
		}
	}
	a.store = sessionFile{path: a.sessionPath}
	saved, err := a.store.Load()
	if err != nil {
		// a corrupt file only costs a sign-in
		a.log.Warn("ignoring saved session", zap.Error(err))
	}

	a.bus = session.NewInMemory(8)
	if a.gate, err = gate.New(ctx, a.bus, saved); err != nil {
		return err
	}
	a.client = client.New(a.apiURL, a.bus, a.log)
	a.client.Restore(saved)
	a.loaded = saved
	return nil
}

// close persists the client's session when this run changed it, including
// after a failed command that cleared or refreshed it. An unchanged session is
// left alone so a newer one written by another invocation survives.
func (a *app) close() error {
	if a.client == nil {
		return nil
	}
	a.gate.Close()
	defer func() { _ = a.log.Sync() }()
	cur := a.client.Session()
	if sameSession(a.loaded, cur) {
		return nil
	}
	return a.store.Save(cur)
}

func sameSession(x, y *session.Session) bool {
	if x == nil || y == nil {
		return x == y
	}
	return x.AccessToken == y.AccessToken && x.RefreshToken == y.RefreshToken
}

// requireSession fails fast unless the gate shows the dashboard view.
func (a *app) requireSession() error {
	if a.gate.View() != gate.ViewDashboard {
		return errSignedOut
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// dateFlag parses --date, defaulting to today.
func dateFlag(cmd *cobra.Command) (attendance.Date, error) {
	v, _ := cmd.Flags().GetString("date")
	if v == "" {
		return attendance.Today(), nil
	}
	return attendance.ParseDate(v)
}

// readPassword falls back to the first line of stdin when --password is empty.
func readPassword(cmd *cobra.Command, flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

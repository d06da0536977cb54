package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/aayushbajaj/keyrace/internal/auth"
)

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in with GitHub to join the leaderboard",
		Args:  cobra.NoArgs,
		RunE:  runLoginCmd,
	}
}

func runLoginCmd(cmd *cobra.Command, _ []string) error {
	svc, _, _, cleanup, err := openService()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	session, err := svc.Login(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Open %s and enter the code: %s\n", session.VerificationURI(), session.UserCode())
	fmt.Fprintln(out, "Waiting for GitHub...")

	state, err := session.Wait(ctx)
	switch state {
	case auth.StateAuthorized:
		cred := svc.Creds.Get()
		fmt.Fprintf(out, "Logged in as @%s\n", cred.Username)
		if err := svc.PushNow(ctx); err != nil {
			logErrf("could not upload today's count: %v\n", err)
		}
		return nil
	case auth.StateExpired:
		return fmt.Errorf("the code expired before it was approved; run `keyrace login` again")
	default:
		if err == nil {
			err = session.Err()
		}
		return fmt.Errorf("login %s: %w", state, err)
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored GitHub credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()
			if err := svc.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the logged in GitHub user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, _, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			svc.BackfillUsername(cmd.Context())
			cred := svc.Creds.Get()
			out := cmd.OutOrStdout()
			switch {
			case !cred.LoggedIn:
				fmt.Fprintln(out, "Not logged in")
			case cred.Username == "":
				fmt.Fprintln(out, "Logged in (username unknown)")
			default:
				fmt.Fprintf(out, "@%s\n", cred.Username)
			}
			return nil
		},
	}
}

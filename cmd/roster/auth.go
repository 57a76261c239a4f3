package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/minus-twelve/roster/types"
	"github.com/spf13/cobra"
)

func newLoginCommand(a *app) *cobra.Command {
	var creds types.Credentials

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and persist the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if creds.Password == "" {
				creds.Password = os.Getenv("ROSTER_PASSWORD")
			}
			if creds.Email == "" || creds.Password == "" {
				return errors.New("email and password are required")
			}
			m, _, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			session, err := m.Login(cmd.Context(), creds)
			if err != nil {
				return err
			}
			name := creds.Email
			if session.User != nil && session.User.DisplayName() != "" {
				name = session.User.DisplayName()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Welcome, %s. Session valid until %s\n",
				name, session.ExpiresAt.Format(time.RFC1123))
			return nil
		},
	}
	cmd.Flags().StringVarP(&creds.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&creds.Password, "password", "p", "", "account password (or ROSTER_PASSWORD)")
	return cmd
}

func newLogoutCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			m.Logout(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			info := m.SessionInfo()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state:         %s\n", info.State)
			fmt.Fprintf(out, "authenticated: %t\n", info.IsAuthenticated)
			if info.User != nil {
				fmt.Fprintf(out, "user:          %s <%s> (%s)\n", info.User.DisplayName(), info.User.Email, info.User.Role)
			}
			if info.TimeUntilExpiry != nil {
				fmt.Fprintf(out, "expires in:    %s\n", info.TimeUntilExpiry.Round(time.Second))
			}
			return nil
		},
	}
}

func newRefreshCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Exchange the current token for a fresh one",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			session, err := m.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session valid until %s\n", session.ExpiresAt.Format(time.RFC1123))
			return nil
		},
	}
}

func newRegisterCommand(a *app) *cobra.Command {
	var reg types.Registration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Request a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reg.Password == "" {
				reg.Password = os.Getenv("ROSTER_PASSWORD")
			}
			_, api, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			msg, err := api.Register(cmd.Context(), reg)
			if err != nil {
				return err
			}
			if msg == "" {
				msg = "Registration submitted, awaiting approval"
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&reg.Name, "name", "", "full name")
	cmd.Flags().StringVarP(&reg.Email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&reg.Password, "password", "p", "", "account password (or ROSTER_PASSWORD)")
	cmd.Flags().StringVar(&reg.Role, "role", "user", "requested role")
	return cmd
}

func newUsersCommand(a *app) *cobra.Command {
	var pending bool

	cmd := &cobra.Command{
		Use:   "users",
		Short: "Administer user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, api, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			list := api.Users
			if pending {
				list = api.PendingUsers
			}
			users, err := list(cmd.Context())
			if err != nil {
				return err
			}
			return printUsers(cmd.OutOrStdout(), users)
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "only accounts awaiting approval")

	cmd.AddCommand(
		userAction(a, "approve", "Approve a pending account", func(cmd *cobra.Command, id string) error {
			return a.api.ApproveUser(cmd.Context(), id)
		}),
		userAction(a, "reject", "Reject a pending account", func(cmd *cobra.Command, id string) error {
			return a.api.RejectUser(cmd.Context(), id)
		}),
		userAction(a, "delete", "Delete an account", func(cmd *cobra.Command, id string) error {
			return a.api.DeleteUser(cmd.Context(), id)
		}),
		userAction(a, "kick", "Invalidate an account's session", func(cmd *cobra.Command, id string) error {
			return a.api.SetUserSession(cmd.Context(), id, false)
		}),
		newUserStatusCommand(a),
	)
	return cmd
}

func userAction(a *app, use, short string, run func(cmd *cobra.Command, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, _, err := a.manager(cmd.Context()); err != nil {
				return err
			}
			if err := run(cmd, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: done\n", use)
			return nil
		},
	}
}

func newUserStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <user-id> <status>",
		Short: "Change an account's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, api, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			return api.SetUserStatus(cmd.Context(), args[0], args[1])
		},
	}
}

func printUsers(out io.Writer, users []types.User) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tDEPARTMENT\tROLE\tSTATUS\tSESSION\tLAST LOGIN")
	for _, u := range users {
		session := "-"
		if u.SessionActive {
			session = "active"
		}
		lastLogin := "never"
		if u.LastLogin != nil {
			lastLogin = u.LastLogin.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			u.ID, u.DisplayName(), u.Email, u.Department, u.Role, u.Status, session, lastLogin)
	}
	return w.Flush()
}

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/mmynk/eventsync/internal/auth"
	"github.com/mmynk/eventsync/internal/ledger"
	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/presence/redispresence"
	"github.com/mmynk/eventsync/internal/storage"
	"github.com/mmynk/eventsync/internal/transport"
	"github.com/mmynk/eventsync/internal/wire"
)

func newPendingCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List local entities that still need the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.journal()
			if err != nil {
				return err
			}
			entries, err := store.ListPending(cmd.Context())
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []*storage.Entry{}
			}
			return a.output(cmd.OutOrStdout(), entries, func(w io.Writer) error {
				if len(entries) == 0 {
					fmt.Fprintln(w, "Nothing pending")
					return nil
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "LOCAL ID\tKIND\tACTION\tID\tDIRTY\tUPDATED")
				for _, e := range entries {
					id := e.ServerID
					if id == "" {
						id = e.ClientTempID
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\n",
						e.LocalID, e.Kind, e.Action, id, e.Dirty, time.Unix(e.UpdatedAt, 0).Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newSnapshotCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <event-id>",
		Short: "Print the authority's current state of an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			var snap wire.EventSnapshot
			if err := client.Fetch(cmd.Context(), transport.SnapshotProcedure, map[string]any{transport.KeyEventID: args[0]}, &snap); err != nil {
				return err
			}
			return a.output(cmd.OutOrStdout(), snap, func(w io.Writer) error {
				fmt.Fprintf(w, "%s (%s) by %s, last change by %s\n", snap.Title, snap.ID, snap.EnteredBy, snap.UpdatedBy)
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				for _, p := range snap.Participants {
					fmt.Fprintf(tw, "participant\t%s\t%s\t%s\tactive=%t\n", p.ID, p.UserID, p.Status, p.Active)
				}
				for _, i := range snap.Items {
					fmt.Fprintf(tw, "item\t%s\t%s\t%s x%d\t%d options\n", i.ID, i.Name, i.Amount, i.Quantity, len(i.Options))
				}
				for _, t := range snap.Transactions {
					fmt.Fprintf(tw, "transaction\t%s\t%s\t%s %s\tpaid by %s\n", t.ID, t.Title, t.Amount, t.Currency, t.PaidBy)
				}
				return tw.Flush()
			})
		},
	}
}

func newBalancesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balances <event-id>",
		Short: "Show who owes whom in an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			var report ledger.Report
			if err := client.Fetch(cmd.Context(), transport.BalancesProcedure, map[string]any{transport.KeyEventID: args[0]}, &report); err != nil {
				return err
			}
			return a.output(cmd.OutOrStdout(), report, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USER\tPAID\tOWED\tNET")
				for _, b := range report.Balances {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.User, b.Paid.StringFixed(2), b.Owed.StringFixed(2), b.Net.StringFixed(2))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				for _, d := range report.Debts {
					fmt.Fprintf(w, "%s pays %s %s\n", d.From, d.To, d.Amount.StringFixed(2))
				}
				return nil
			})
		},
	}
}

func newPresenceCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "presence <event-id>",
		Short: "List who has an event open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb, err := a.redis(cmd.Context())
			if err != nil {
				return err
			}
			records, err := redispresence.New(rdb, a.cfg.PresenceTTL).List(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.output(cmd.OutOrStdout(), records, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USER\tACTIVE\tUPDATED")
				for _, r := range records {
					fmt.Fprintf(tw, "%s\t%t\t%s\n", r.User, r.Active, r.UpdatedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newTokenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user",
		Long: `Issue a bearer token signed with auth.secret.

The user's email is taken from the local user directory when known.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.Auth.Secret == "" {
				return errors.New("auth.secret is not configured")
			}
			store, err := a.journal()
			if err != nil {
				return err
			}
			user, err := store.GetUserByID(cmd.Context(), args[0])
			if errors.Is(err, storage.ErrNotFound) {
				user = &models.User{ID: args[0]}
			} else if err != nil {
				return err
			}
			token, err := auth.NewJWTManager(a.cfg.Auth.Secret, a.cfg.Auth.TokenTTL).Generate(user)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
}

func newUserCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage the local user directory used to match aliases",
	}

	var (
		email   string
		name    string
		aliases []string
	)
	add := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add a user and its aliases",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.journal()
			if err != nil {
				return err
			}
			return store.CreateUser(cmd.Context(), &models.User{
				ID:          args[0],
				DisplayName: name,
				Email:       email,
				Aliases:     aliases,
			})
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringSliceVar(&aliases, "alias", nil, "additional reference to the same user (repeatable)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List known users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.journal()
			if err != nil {
				return err
			}
			users, err := store.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			return a.output(cmd.OutOrStdout(), users, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tEMAIL\tALIASES")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", u.ID, u.DisplayName, u.Email, u.Aliases)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return amount, nil
}

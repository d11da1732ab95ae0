package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/mmynk/eventsync/internal/engine"
	"github.com/mmynk/eventsync/internal/merge"
	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/presence"
	"github.com/mmynk/eventsync/internal/presence/redispresence"
	"github.com/mmynk/eventsync/internal/submission"
	"github.com/mmynk/eventsync/internal/transport"
	"github.com/mmynk/eventsync/internal/wire"
)

const presenceFlushTimeout = 2 * time.Second

// open starts an editing session over the authority's current state of
// eventID. Sync transitions are journaled locally and merges resolve user
// aliases through the local user directory.
func (a *app) open(ctx context.Context, eventID string, w io.Writer, opts ...engine.Option) (*engine.Session, error) {
	if a.cfg.User == "" {
		return nil, errors.New("user.id is not configured")
	}
	client, err := a.client()
	if err != nil {
		return nil, err
	}
	store, err := a.journal()
	if err != nil {
		return nil, err
	}

	var snap wire.EventSnapshot
	if err := client.Fetch(ctx, transport.SnapshotProcedure, map[string]any{transport.KeyEventID: eventID}, &snap); err != nil {
		return nil, err
	}
	users, err := store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	pipeline := submission.New(client,
		submission.WithJournal(store),
		submission.WithTimeout(a.cfg.SubmitTimeout),
		submission.WithNotifier(submission.NotifierFunc(func(n submission.Notice) {
			fmt.Fprintf(w, "%s: %s\n", n.Kind, n.Message)
		})),
	)
	opts = append([]engine.Option{engine.WithMerger(merge.New(&merge.StaticDirectory{Users: users}))}, opts...)
	if a.cfg.RedisAddr != "" {
		rdb, err := a.redis(ctx)
		if err != nil {
			return nil, err
		}
		a.tracker = presence.NewTracker(redispresence.New(rdb, a.cfg.PresenceTTL), a.cfg.User)
		opts = append(opts, engine.WithPresence(a.tracker))
	}
	return engine.Open(ctx, snap.ToEvent(), pipeline, opts...), nil
}

// finish closes the session and gives its closing presence mark a bounded
// chance to land before the process exits.
func (a *app) finish(s *engine.Session) {
	s.Close()
	if a.tracker != nil && !a.tracker.WaitTimeout(presenceFlushTimeout) {
		slog.Warn("Presence mark still pending at exit", "user", a.tracker.User())
	}
}

func newExpenseCommand(a *app) *cobra.Command {
	var (
		title    string
		amount   string
		currency string
		paidBy   string
		note     string
	)

	cmd := &cobra.Command{
		Use:   "expense <event-id>",
		Short: "Record a transaction in an event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseAmount(amount)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			session, err := a.open(cmd.Context(), args[0], out)
			if err != nil {
				return err
			}
			defer a.finish(session)

			if paidBy == "" {
				paidBy = a.cfg.User
			}
			tx := models.NewTransaction(a.cfg.User, models.TransactionFields{
				Title:    title,
				Amount:   value,
				Currency: currency,
				PaidBy:   paidBy,
				Date:     time.Now(),
				Note:     note,
				Active:   true,
			})
			if err := session.Mutate(func(ev *models.Event) {
				if tx.Currency == "" {
					tx.Currency = ev.Currency
				}
				ev.AddTransaction(tx)
			}); err != nil {
				return err
			}

			if _, err := session.Save(cmd.Context()); err != nil {
				return err
			}
			var id string
			session.View(func(*models.Event) { id = tx.ServerID })
			if id == "" {
				return errors.New("transaction was not saved")
			}
			fmt.Fprintf(out, "Saved transaction %s\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "transaction title (required)")
	_ = cmd.MarkFlagRequired("title")
	cmd.Flags().StringVar(&amount, "amount", "", "amount paid (required)")
	_ = cmd.MarkFlagRequired("amount")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO 4217 code, defaults to the event's")
	cmd.Flags().StringVar(&paidBy, "paid-by", "", "payer, defaults to user.id")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")
	return cmd
}

func newWatchCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <event-id>",
		Short: "Follow an event and print every merged change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			session, err := a.open(ctx, args[0], out, engine.WithOnChange(func(r merge.Report) {
				origin := "participant"
				if r.AdminUpdate {
					origin = "admin"
				}
				fmt.Fprintf(out, "%s %s update: fields=%t added=%d removed=%d updated=%d preserved=%d\n",
					time.Now().Format(time.Kitchen), origin, r.FieldsUpdated, len(r.Added), len(r.Removed), len(r.Updated), len(r.Preserved))
			}))
			if err != nil {
				return err
			}
			defer a.finish(session)

			if viewers, err := session.Viewers(ctx); err == nil && len(viewers) > 0 {
				fmt.Fprintf(out, "Also open by %v\n", viewers)
			}

			feed, err := a.feed(ctx)
			if err != nil {
				return err
			}
			slog.Info("Watching event", "event_id", args[0], "mode", a.cfg.NotifyMode)
			if err := session.Follow(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

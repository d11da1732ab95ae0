// Command eventsync inspects and drives the sync engine from a terminal.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mmynk/eventsync/internal/config"
	"github.com/mmynk/eventsync/internal/notify"
	"github.com/mmynk/eventsync/internal/presence"
	"github.com/mmynk/eventsync/internal/storage/sqlite"
	"github.com/mmynk/eventsync/internal/transport"
	"github.com/mmynk/eventsync/pkg/logging"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// app holds global flags and the resources commands share.
type app struct {
	configDir string
	format    string

	cfg     *config.Config
	store   *sqlite.SQLiteStore
	rdb     *redis.Client
	tracker *presence.Tracker
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           "eventsync",
		Short:         "Inspect and drive collaborative event sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, a.format) {
				return fmt.Errorf("invalid format %q: must be one of %v", a.format, ValidFormats)
			}
			cfg, err := config.Load(a.configDir)
			if err != nil {
				return err
			}
			a.cfg = cfg
			logging.SetupWithLevel(logging.ParseLevel(cfg.LogLevel))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configDir, "config", ".", "directory containing config.yaml")
	cmd.PersistentFlags().StringVar(&a.format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newPendingCommand(a),
		newSnapshotCommand(a),
		newBalancesCommand(a),
		newExpenseCommand(a),
		newWatchCommand(a),
		newPresenceCommand(a),
		newTokenCommand(a),
		newUserCommand(a),
	)
	return cmd
}

// journal opens the local store holding the sync journal and the user
// directory.
func (a *app) journal() (*sqlite.SQLiteStore, error) {
	if a.store == nil {
		store, err := sqlite.New(a.cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		a.store = store
	}
	return a.store, nil
}

func (a *app) redis(ctx context.Context) (*redis.Client, error) {
	if a.cfg.RedisAddr == "" {
		return nil, errors.New("redis.addr is not configured")
	}
	if a.rdb == nil {
		rdb := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		a.rdb = rdb
	}
	return a.rdb, nil
}

// client talks to the authority as the configured user.
func (a *app) client() (*transport.Client, error) {
	if a.cfg.Token == "" {
		return nil, errors.New("user.token is not configured; see eventsync token")
	}
	return transport.NewClient(transport.DefaultHTTPClient, a.cfg.Server.URL, a.cfg.Token), nil
}

// feed follows the authority over the configured notification mode.
func (a *app) feed(ctx context.Context) (notify.Feed, error) {
	if a.cfg.NotifyMode == config.NotifyRedis {
		rdb, err := a.redis(ctx)
		if err != nil {
			return nil, err
		}
		return notify.NewRedisFeed(rdb), nil
	}
	return &notify.WebSocketFeed{URL: a.cfg.FeedURL(), Token: a.cfg.Token}, nil
}

func (a *app) close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	return errors.Join(errs...)
}

// output writes v as indented JSON when --format json is set and calls
// text otherwise.
func (a *app) output(w io.Writer, v any, text func(io.Writer) error) error {
	if a.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

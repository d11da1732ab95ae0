package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/eventsync/internal/ledger"
	"github.com/mmynk/eventsync/internal/middleware"
	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/storage"
	"github.com/mmynk/eventsync/internal/transport"
	"github.com/mmynk/eventsync/internal/wire"
)

// Snapshot returns the full current aggregate of one event.
func (s *SyncService) Snapshot(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	snap, err := s.readable(ctx, req.Msg)
	if err != nil {
		return nil, err
	}
	msg, err := transport.ToStruct(snap)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Balances returns who owes whom across an event's transactions.
func (s *SyncService) Balances(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	snap, err := s.readable(ctx, req.Msg)
	if err != nil {
		return nil, err
	}
	report, err := ledger.EventReport(snap.ToEvent())
	if err != nil {
		slog.Error("Balances failed", "event_id", snap.ID, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	msg, err := transport.ToStruct(report)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	slog.Info("Balances computed", "event_id", snap.ID, "debts", len(report.Debts))
	return connect.NewResponse(msg), nil
}

// readable loads the event named by the request for a member.
func (s *SyncService) readable(ctx context.Context, msg *structpb.Struct) (*wire.EventSnapshot, error) {
	user := middleware.GetUserID(ctx)
	if user == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errNoUser)
	}
	eventID, _ := msg.AsMap()[transport.KeyEventID].(string)
	if eventID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("event_id is required"))
	}
	ev, err := s.records.GetRecord(ctx, eventID)
	if err != nil {
		return nil, storeError(err)
	}
	if ev.Kind != models.KindEvent {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s is not an event", eventID))
	}
	if err := s.authorize(ctx, ev, user, false); err != nil {
		return nil, err
	}
	return s.snapshot(ctx, eventID)
}

// snapshot assembles the stored aggregate. Every collection is present,
// possibly empty.
func (s *SyncService) snapshot(ctx context.Context, eventID string) (*wire.EventSnapshot, error) {
	ev, err := s.records.GetRecord(ctx, eventID)
	if err != nil {
		return nil, storeError(err)
	}
	snap := &wire.EventSnapshot{}
	if err := decode(ev, snap); err != nil {
		return nil, err
	}
	snap.ID = ev.ID
	snap.EnteredBy = ev.EnteredBy
	snap.UpdatedBy = ev.UpdatedBy
	snap.Participants = []wire.ParticipantSnapshot{}
	snap.Items = []wire.ItemSnapshot{}
	snap.Transactions = []wire.TransactionSnapshot{}

	children, err := s.records.ListChildren(ctx, ev.ID)
	if err != nil {
		return nil, storeError(err)
	}
	for _, child := range children {
		switch child.Kind {
		case models.KindParticipant:
			var p wire.ParticipantSnapshot
			if err := decode(child, &p); err != nil {
				return nil, err
			}
			p.ID = child.ID
			snap.Participants = append(snap.Participants, p)
		case models.KindItem:
			item, err := s.item(ctx, child)
			if err != nil {
				return nil, err
			}
			snap.Items = append(snap.Items, item)
		case models.KindTransaction:
			var t wire.TransactionSnapshot
			if err := decode(child, &t); err != nil {
				return nil, err
			}
			t.ID = child.ID
			t.EnteredBy = child.EnteredBy
			snap.Transactions = append(snap.Transactions, t)
		}
	}
	return snap, nil
}

func (s *SyncService) item(ctx context.Context, rec *storage.Record) (wire.ItemSnapshot, error) {
	var item wire.ItemSnapshot
	if err := decode(rec, &item); err != nil {
		return item, err
	}
	item.ID = rec.ID
	item.Options = []wire.OptionSnapshot{}

	options, err := s.records.ListChildren(ctx, rec.ID)
	if err != nil {
		return item, storeError(err)
	}
	for _, opt := range options {
		var o wire.OptionSnapshot
		if err := decode(opt, &o); err != nil {
			return item, err
		}
		o.ID = opt.ID
		item.Options = append(item.Options, o)
	}
	return item, nil
}

func decode(rec *storage.Record, out any) error {
	if err := json.Unmarshal(rec.Payload, out); err != nil {
		return connect.NewError(connect.CodeDataLoss, fmt.Errorf("failed to decode %s record %s: %w", rec.Kind, rec.ID, err))
	}
	return nil
}

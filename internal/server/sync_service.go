// Package server is the reference authority: it stores submissions, assigns
// durable ids and publishes the aggregate to every subscriber after each
// change.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/eventsync/internal/metrics"
	"github.com/mmynk/eventsync/internal/middleware"
	"github.com/mmynk/eventsync/internal/models"
	"github.com/mmynk/eventsync/internal/notify"
	"github.com/mmynk/eventsync/internal/storage"
	"github.com/mmynk/eventsync/internal/transport"
	"github.com/mmynk/eventsync/internal/wire"
)

var (
	errNoUser     = errors.New("no acting user")
	errNotMember  = errors.New("user is not a participant of the event")
	errAdminOnly  = errors.New("only the event owner can change the event")
	errKindChange = errors.New("record kind does not match request")
)

// parentKind is the kind every child record must be attached to.
var parentKind = map[models.Kind]models.Kind{
	models.KindParticipant: models.KindEvent,
	models.KindItem:        models.KindEvent,
	models.KindTransaction: models.KindEvent,
	models.KindItemOption:  models.KindItem,
}

type nestedKey struct {
	key  string
	kind models.Kind
}

// nestedKind lists, in creation order, the payload keys that may embed
// children of a kind.
var nestedKind = map[models.Kind][]nestedKey{
	models.KindEvent: {
		{wire.KeyParticipants, models.KindParticipant},
		{wire.KeyItems, models.KindItem},
		{wire.KeyTransactions, models.KindTransaction},
	},
	models.KindItem: {
		{wire.KeyOptions, models.KindItemOption},
	},
}

// requiredField must be a non-blank string in every stored payload.
var requiredField = map[models.Kind]string{
	models.KindEvent:       "title",
	models.KindParticipant: "user_id",
	models.KindItem:        "name",
	models.KindItemOption:  "name",
	models.KindTransaction: "title",
}

// attributed kinds carry entered_by in their payload.
var attributed = map[models.Kind]bool{
	models.KindEvent:       true,
	models.KindTransaction: true,
}

// SyncService implements the SyncService procedures over a RecordStore.
type SyncService struct {
	records   storage.RecordStore
	publisher notify.Publisher
}

// Option configures a SyncService.
type Option func(*SyncService)

// WithPublisher broadcasts the aggregate after every accepted change.
func WithPublisher(p notify.Publisher) Option {
	return func(s *SyncService) {
		s.publisher = p
	}
}

// NewSyncService creates a new SyncService with the given storage backend.
func NewSyncService(records storage.RecordStore, opts ...Option) *SyncService {
	s := &SyncService{records: records}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts every procedure on mux.
func (s *SyncService) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(transport.SendProcedure, connect.NewUnaryHandler(transport.SendProcedure, s.Send, opts...))
	mux.Handle(transport.SnapshotProcedure, connect.NewUnaryHandler(transport.SnapshotProcedure, s.Snapshot, opts...))
	mux.Handle(transport.BalancesProcedure, connect.NewUnaryHandler(transport.BalancesProcedure, s.Balances, opts...))
}

// Send applies one submission.
func (s *SyncService) Send(ctx context.Context, req *connect.Request[structpb.Struct]) (*connect.Response[structpb.Struct], error) {
	user := middleware.GetUserID(ctx)
	if user == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, errNoUser)
	}
	r, err := transport.DecodeRequest(req.Msg)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	slog.Info("Send request received",
		"user_id", user,
		"action", r.Action,
		"kind", r.Kind,
		"server_id", r.ServerID,
		"parent_server_id", r.ParentServerID,
	)

	var (
		ack     transport.Ack
		eventID string
	)
	switch r.Action {
	case models.ActionCreate:
		ack, eventID, err = s.create(ctx, user, r)
	case models.ActionUpdate:
		eventID, err = s.update(ctx, user, r)
	case models.ActionDelete:
		eventID, err = s.remove(ctx, user, r)
	default:
		err = connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("action %s is not submittable", r.Action))
	}
	if err != nil {
		slog.Warn("Send rejected", "user_id", user, "action", r.Action, "kind", r.Kind, "error", err)
		return nil, err
	}

	if !(r.Action == models.ActionDelete && r.Kind == models.KindEvent) {
		s.publish(ctx, eventID, user)
	}

	msg, err := transport.EncodeAck(ack)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

func (s *SyncService) create(ctx context.Context, user string, r transport.Request) (transport.Ack, string, error) {
	var (
		parentID string
		eventID  string
	)
	if r.Kind == models.KindEvent {
		if r.ParentServerID != "" {
			return transport.Ack{}, "", connect.NewError(connect.CodeInvalidArgument, errors.New("events have no parent"))
		}
	} else {
		want, ok := parentKind[r.Kind]
		if !ok {
			return transport.Ack{}, "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown kind %q", r.Kind))
		}
		if r.ParentServerID == "" {
			return transport.Ack{}, "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s requires a parent", r.Kind))
		}
		parent, err := s.records.GetRecord(ctx, r.ParentServerID)
		if err != nil {
			return transport.Ack{}, "", storeError(err)
		}
		if parent.Kind != want {
			return transport.Ack{}, "", connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s cannot be attached to a %s", r.Kind, parent.Kind))
		}
		ev, err := s.rootEvent(ctx, parent)
		if err != nil {
			return transport.Ack{}, "", err
		}
		if err := s.authorize(ctx, ev, user, false); err != nil {
			return transport.Ack{}, "", err
		}
		parentID = parent.ID
		eventID = ev.ID
	}

	payload := r.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	if r.ClientTempID != "" {
		payload[wire.KeyClientTempID] = r.ClientTempID
	}
	var batch []*storage.NewRecord
	if err := flatten(&batch, r.Kind, payload, parentID, -1, user); err != nil {
		return transport.Ack{}, "", err
	}
	if err := s.records.CreateRecords(ctx, batch); err != nil {
		slog.Error("CreateRecords failed", "kind", r.Kind, "error", err)
		return transport.Ack{}, "", storeError(err)
	}
	if r.Kind == models.KindEvent {
		eventID = batch[0].ID
	}

	var ack transport.Ack
	for _, rec := range batch {
		if rec.ClientTempID != "" {
			ack.IDs = append(ack.IDs, transport.IDPair{ClientTempID: rec.ClientTempID, ServerID: rec.ID})
		}
	}
	slog.Info("Records created", "kind", r.Kind, "event_id", eventID, "count", len(batch))
	return ack, eventID, nil
}

// flatten appends the record for payload and, depth-first, every child
// embedded in it. Children reference their parent by batch position.
func flatten(batch *[]*storage.NewRecord, kind models.Kind, payload map[string]any, parentID string, parentIndex int, user string) error {
	tempID, _ := payload[wire.KeyClientTempID].(string)
	fields := strip(kind, payload)
	if attributed[kind] {
		fields[wire.KeyEnteredBy] = user
	}
	data, err := checked(kind, fields)
	if err != nil {
		return err
	}

	index := len(*batch)
	*batch = append(*batch, &storage.NewRecord{
		Record: storage.Record{
			Kind:      kind,
			ParentID:  parentID,
			Payload:   data,
			EnteredBy: user,
		},
		ClientTempID: tempID,
		ParentIndex:  parentIndex,
	})

	for _, nested := range nestedKind[kind] {
		children, _ := payload[nested.key].([]any)
		for _, child := range children {
			childPayload, ok := child.(map[string]any)
			if !ok {
				return connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("malformed nested %s", nested.kind))
			}
			if err := flatten(batch, nested.kind, childPayload, "", index, user); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *SyncService) update(ctx context.Context, user string, r transport.Request) (string, error) {
	rec, ev, err := s.target(ctx, user, r)
	if err != nil {
		return "", err
	}
	fields := strip(r.Kind, r.Payload)
	if attributed[r.Kind] {
		fields[wire.KeyEnteredBy] = rec.EnteredBy
	}
	data, err := checked(r.Kind, fields)
	if err != nil {
		return "", err
	}
	if err := s.records.UpdateRecord(ctx, rec.ID, data, user); err != nil {
		slog.Error("UpdateRecord failed", "record_id", rec.ID, "error", err)
		return "", storeError(err)
	}
	slog.Info("Record updated", "kind", r.Kind, "record_id", rec.ID, "event_id", ev.ID)
	return ev.ID, nil
}

func (s *SyncService) remove(ctx context.Context, user string, r transport.Request) (string, error) {
	rec, ev, err := s.target(ctx, user, r)
	if err != nil {
		return "", err
	}
	if err := s.records.DeleteRecord(ctx, rec.ID, user); err != nil {
		slog.Error("DeleteRecord failed", "record_id", rec.ID, "error", err)
		return "", storeError(err)
	}
	slog.Info("Record deleted", "kind", r.Kind, "record_id", rec.ID, "event_id", ev.ID)
	return ev.ID, nil
}

// target loads and authorizes the record an Update or Delete addresses.
// Changing the event itself is reserved to its owner.
func (s *SyncService) target(ctx context.Context, user string, r transport.Request) (*storage.Record, *storage.Record, error) {
	if r.ServerID == "" {
		return nil, nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s %s requires a server id", r.Action, r.Kind))
	}
	rec, err := s.records.GetRecord(ctx, r.ServerID)
	if err != nil {
		return nil, nil, storeError(err)
	}
	if rec.Kind != r.Kind {
		return nil, nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%w: %s is a %s", errKindChange, rec.ID, rec.Kind))
	}
	ev, err := s.rootEvent(ctx, rec)
	if err != nil {
		return nil, nil, err
	}
	if err := s.authorize(ctx, ev, user, rec.Kind == models.KindEvent); err != nil {
		return nil, nil, err
	}
	return rec, ev, nil
}

// rootEvent walks up from rec to the event that owns it.
func (s *SyncService) rootEvent(ctx context.Context, rec *storage.Record) (*storage.Record, error) {
	for depth := 0; rec.Kind != models.KindEvent; depth++ {
		if rec.ParentID == "" || depth > 2 {
			return nil, connect.NewError(connect.CodeInternal, fmt.Errorf("record %s has no owning event", rec.ID))
		}
		parent, err := s.records.GetRecord(ctx, rec.ParentID)
		if err != nil {
			return nil, storeError(err)
		}
		rec = parent
	}
	return rec, nil
}

// authorize admits the event owner and, unless adminOnly, every invited
// participant that has not declined or left.
func (s *SyncService) authorize(ctx context.Context, ev *storage.Record, user string, adminOnly bool) error {
	if ev.EnteredBy == user {
		return nil
	}
	if adminOnly {
		return connect.NewError(connect.CodePermissionDenied, errAdminOnly)
	}
	children, err := s.records.ListChildren(ctx, ev.ID)
	if err != nil {
		return storeError(err)
	}
	for _, child := range children {
		if child.Kind != models.KindParticipant {
			continue
		}
		var p wire.ParticipantSnapshot
		if err := json.Unmarshal(child.Payload, &p); err != nil {
			slog.Warn("Skipping malformed participant", "record_id", child.ID, "error", err)
			continue
		}
		if p.UserID == user && !p.Removed() {
			return nil
		}
	}
	return connect.NewError(connect.CodePermissionDenied, errNotMember)
}

func (s *SyncService) publish(ctx context.Context, eventID, user string) {
	if s.publisher == nil || eventID == "" {
		return
	}
	snap, err := s.snapshot(ctx, eventID)
	if err != nil {
		slog.Warn("Failed to build snapshot for publish", "event_id", eventID, "error", err)
		return
	}
	snap.UpdatedBy = user
	n := &wire.Notification{AggregateType: models.KindEvent, Event: snap}
	if err := s.publisher.Publish(ctx, n); err != nil {
		slog.Warn("Failed to publish snapshot", "event_id", eventID, "error", err)
		return
	}
	metrics.Notifications.Inc()
}

// strip copies payload without client ids and nested children.
func strip(kind models.Kind, payload map[string]any) map[string]any {
	fields := make(map[string]any, len(payload))
	for key, value := range payload {
		if key == wire.KeyClientTempID || key == wire.KeyID {
			continue
		}
		if isNested(kind, key) {
			continue
		}
		fields[key] = value
	}
	return fields
}

func isNested(kind models.Kind, key string) bool {
	for _, nested := range nestedKind[kind] {
		if nested.key == key {
			return true
		}
	}
	return false
}

// checked encodes fields after requiring the kind's mandatory field.
func checked(kind models.Kind, fields map[string]any) ([]byte, error) {
	name, ok := requiredField[kind]
	if !ok {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("unknown kind %q", kind))
	}
	if value, _ := fields[name].(string); strings.TrimSpace(value) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, &models.ValidationError{Kind: kind, Field: name})
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("failed to encode %s: %w", kind, err))
	}
	return data, nil
}

func storeError(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return connect.NewError(connect.CodeNotFound, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mmynk/eventsync/internal/models"
)

// Procedures of the sync service.
const (
	// SendProcedure accepts submissions.
	SendProcedure = "/eventsync.v1.SyncService/Send"
	// SnapshotProcedure returns the current snapshot of an event.
	SnapshotProcedure = "/eventsync.v1.SyncService/Snapshot"
	// BalancesProcedure returns the balances of an event.
	BalancesProcedure = "/eventsync.v1.SyncService/Balances"
)

// Request envelope keys.
const (
	KeyAction         = "action"
	KeyKind           = "kind"
	KeyServerID       = "server_id"
	KeyClientTempID   = "client_temp_id"
	KeyParentServerID = "parent_server_id"
	KeyPayload        = "payload"
	KeyIDs            = "ids"
	KeyEventID        = "event_id"
)

// Client sends requests to the authority over Connect.
type Client struct {
	httpClient connect.HTTPClient
	baseURL    string
	opts       []connect.ClientOption

	send  *connect.Client[structpb.Struct, structpb.Struct]
	token string
}

// NewClient creates a Client for the authority at baseURL. token is sent as
// a bearer credential identifying the acting user.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		opts:       opts,
		send:       connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SendProcedure, opts...),
		token:      token,
	}
}

var _ Transport = (*Client)(nil)

// Send implements Transport.
func (c *Client) Send(ctx context.Context, req Request) (Ack, error) {
	msg, err := EncodeRequest(req)
	if err != nil {
		return Ack{}, &Error{Class: ClassOther, Err: err}
	}

	call := connect.NewRequest(msg)
	if c.token != "" {
		call.Header().Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.send.CallUnary(ctx, call)
	if err != nil {
		if connect.CodeOf(err) == connect.CodeCanceled || errors.Is(ctx.Err(), context.Canceled) {
			return Ack{}, &Error{Class: ClassCancelled, Err: err}
		}
		return Ack{}, &Error{Class: ClassOther, Err: err}
	}

	ack, err := DecodeAck(resp.Msg)
	if err != nil {
		return Ack{}, &Error{Class: ClassOther, Err: err}
	}
	return ack, nil
}

// Fetch calls a read-only procedure with args and decodes the JSON form of
// the reply into out.
func (c *Client) Fetch(ctx context.Context, procedure string, args map[string]any, out any) error {
	msg, err := structpb.NewStruct(args)
	if err != nil {
		return fmt.Errorf("failed to encode arguments: %w", err)
	}
	call := connect.NewRequest(msg)
	if c.token != "" {
		call.Header().Set("Authorization", "Bearer "+c.token)
	}
	client := connect.NewClient[structpb.Struct, structpb.Struct](c.httpClient, c.baseURL+procedure, c.opts...)
	resp, err := client.CallUnary(ctx, call)
	if err != nil {
		return Classify(err)
	}
	return FromStruct(resp.Msg, out)
}

// ToStruct converts any JSON-encodable value into a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}
	return msg, nil
}

// FromStruct decodes msg into out through its JSON form.
func FromStruct(msg *structpb.Struct, out any) error {
	data, err := protojson.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// EncodeRequest converts a Request into its Struct envelope.
func EncodeRequest(req Request) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(map[string]any{
		KeyAction:         req.Action.String(),
		KeyKind:           string(req.Kind),
		KeyServerID:       req.ServerID,
		KeyClientTempID:   req.ClientTempID,
		KeyParentServerID: req.ParentServerID,
		KeyPayload:        req.Payload,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return msg, nil
}

// DecodeRequest is the inverse of EncodeRequest.
func DecodeRequest(msg *structpb.Struct) (Request, error) {
	fields := msg.AsMap()
	action, err := models.ParseSyncAction(stringOf(fields[KeyAction]))
	if err != nil {
		return Request{}, err
	}
	req := Request{
		Action:         action,
		Kind:           models.Kind(stringOf(fields[KeyKind])),
		ServerID:       stringOf(fields[KeyServerID]),
		ClientTempID:   stringOf(fields[KeyClientTempID]),
		ParentServerID: stringOf(fields[KeyParentServerID]),
	}
	if payload, ok := fields[KeyPayload].(map[string]any); ok {
		req.Payload = payload
	}
	return req, nil
}

// EncodeAck converts an Ack into its Struct envelope.
func EncodeAck(ack Ack) (*structpb.Struct, error) {
	ids := make(map[string]any, len(ack.IDs))
	for _, pair := range ack.IDs {
		ids[pair.ClientTempID] = pair.ServerID
	}
	msg, err := structpb.NewStruct(map[string]any{KeyIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ack: %w", err)
	}
	return msg, nil
}

// DecodeAck is the inverse of EncodeAck.
func DecodeAck(msg *structpb.Struct) (Ack, error) {
	if msg == nil {
		return Ack{}, errors.New("empty ack")
	}
	var ack Ack
	ids, _ := msg.AsMap()[KeyIDs].(map[string]any)
	for tempID, serverID := range ids {
		id := stringOf(serverID)
		if id == "" {
			return Ack{}, fmt.Errorf("ack for %s carries no server id", tempID)
		}
		ack.IDs = append(ack.IDs, IDPair{ClientTempID: tempID, ServerID: id})
	}
	return ack, nil
}

func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// DefaultHTTPClient is used when no client is configured.
var DefaultHTTPClient connect.HTTPClient = http.DefaultClient

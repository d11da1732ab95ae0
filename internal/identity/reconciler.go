// Package identity swaps client temporary identifiers for server-assigned
// durable identifiers once a Create is acknowledged.
//
// Reconciliation only rewrites identifier fields of the entity in place: the
// pointer held by UI bindings and parent collections keeps resolving. Tables
// that indexed the entity by its temporary id are owned by the caller and are
// re-keyed with the returned Rekey.
package identity

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/mmynk/eventsync/internal/models"
)

var (
	// ErrNotCreate is returned when reconciling an entity that is not awaiting
	// its first acknowledgment.
	ErrNotCreate = errors.New("entity is not in create state")

	// ErrMissingServerID is returned when an acknowledgment carries no id.
	ErrMissingServerID = errors.New("acknowledgment carries no server id")

	// ErrMissingNestedIDs is returned when a Create acknowledgment leaves out
	// children that were embedded in the request.
	ErrMissingNestedIDs = errors.New("acknowledgment omits nested ids")
)

// Rekey is the (old temporary id, new server id) pair produced by a
// reconciliation.
type Rekey struct {
	LocalID  string
	Kind     models.Kind
	OldTemp  string
	ServerID string
}

// Reconcile assigns serverID to e, clears its temporary id and moves it to
// ActionUpdate.
func Reconcile(e models.Entity, serverID string) (Rekey, error) {
	state := e.Sync()
	if serverID == "" {
		return Rekey{}, fmt.Errorf("%w: %s %s", ErrMissingServerID, e.Kind(), state.LocalID)
	}
	if state.Action != models.ActionCreate {
		return Rekey{}, fmt.Errorf("%w: %s %s is %s", ErrNotCreate, e.Kind(), state.LocalID, state.Action)
	}

	rekey := Rekey{
		LocalID:  state.LocalID,
		Kind:     e.Kind(),
		OldTemp:  state.ClientTempID,
		ServerID: serverID,
	}
	state.ServerID = serverID
	state.ClientTempID = ""
	state.Action = models.ActionUpdate

	slog.Debug("Identity reconciled",
		"kind", rekey.Kind,
		"local_id", rekey.LocalID,
		"temp_id", rekey.OldTemp,
		"server_id", rekey.ServerID,
	)
	return rekey, nil
}

// ReconcileAll applies an acknowledgment that may cover a parent and the
// owned children it created in the same round trip. ids maps client
// temporary ids to server ids. Entities whose temporary id is absent from ids
// are left untouched and returned in missing for the caller to surface as a
// failed reconciliation.
func ReconcileAll(entities []models.Entity, ids map[string]string) (rekeys []Rekey, missing []models.Entity) {
	for _, e := range entities {
		state := e.Sync()
		if state.Action != models.ActionCreate {
			continue
		}
		serverID, ok := ids[state.ClientTempID]
		if !ok {
			missing = append(missing, e)
			continue
		}
		rekey, err := Reconcile(e, serverID)
		if err != nil {
			missing = append(missing, e)
			continue
		}
		rekeys = append(rekeys, rekey)
	}
	return rekeys, missing
}

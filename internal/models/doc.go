// Package models defines the synchronizable domain records of eventsync.
//
// # Entities
//
//   - Event: a shared record (trip, dinner, household) and the aggregate root
//     that owns participants, items and transactions
//   - Participant: one invited user on an event
//   - Item: a line item of an event, owning its options
//   - ItemOption: one selectable variant of an item
//   - Transaction: money paid by one user, optionally attached to an event
//
// Every entity embeds a SyncState carrying its local id, its server id once
// persisted, the temporary client id used before that, and its SyncAction.
//
// # Design Principles
//
// 1. **Stable object identity**: the in-memory pointer never changes, only the
// identifier fields do, so UI bindings and collection entries stay valid.
// 2. **No back-pointers**: children reference their owner by local id and are
// looked up on demand, never through an owning pointer.
// 3. **Explicit manifests**: each entity lists its comparable fields for the
// shadow tracker; derived values such as formatted amounts are not listed.
// 4. **Explicit absence**: unset references are Option values, not sentinel
// objects.
package models

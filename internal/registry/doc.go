// Package registry tracks live client connections by user.
//
// # Overview
//
// The Registry is the only shared mutable state between the delivery
// scheduler, which reads it on every push, and the transports, which write to
// it as clients connect and disconnect.
//
//	reg := registry.New(logger)
//	reg.Register("user-1", conn)
//	conn, ok := reg.Lookup("user-1")
//	reg.Unregister(conn)
//
// # Ordering Rules
//
//   - Last register wins. A second connection for the same user replaces the first.
//   - Unregister only clears a user's entry when the handle being removed is
//     still current, so a late disconnect from an old tab never evicts a newer one.
//   - A superseded connection stops receiving pushes but is still tracked
//     until it unregisters, so CloseAll reaches it at shutdown.
//   - All maps change under the same lock; there are no per-entry locks.
package registry

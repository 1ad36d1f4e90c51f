// Package delivery runs the periodic pass that delivers due vault messages.
//
// # Tick
//
// Every Period the scheduler asks the store for messages with
// deliver_at <= now and delivered = false, then for each one:
//
//  1. Notifies the owner through the push channel (best effort).
//  2. Marks the message delivered with a conditional update.
//
// Step 2 happens whatever step 1 returned. A message whose update fails stays
// due and is picked up again on the next tick. When a dedupe cache is
// configured, that retry does not push the event a second time.
//
// # Concurrency
//
// Ticks never overlap: a tick that starts while another is running is skipped
// and counted in Stats. Within a tick, up to Workers messages are handled in
// parallel and none of them can fail the others.
//
// On shutdown the tick in flight keeps running, bounded by ShutdownGrace.
package delivery

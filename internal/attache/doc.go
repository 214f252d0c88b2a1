// Package attache implements the manager-side control channel for a single
// managed host.
//
// # Attache
//
// Attache is the capability every channel variant implements: identity,
// maintenance flag, closed query, and the Send/Process/Disconnect surface.
// Base carries the shared identity fields and is composed into each variant.
//
// # Direct
//
// Direct is the variant for hosts whose execution surface (a Resource) runs
// in-process with the manager. It never owns goroutines of its own: every
// unit of work runs on a shared Pool supplied by the manager.
//
//	d := attache.NewDirect(attache.DirectParams{
//	    ID:       7,
//	    Resource: res,
//	    Pool:     pool,
//	    Manager:  mgr,
//	    Logger:   logger,
//	})
//
// Send routes an envelope without blocking:
//
//   - a Response led by a StartupAnswer starts the ping schedule
//   - a Request led by a CronCommand is scheduled at the command's interval
//   - any other Request runs once
//
// Results are handed back through Manager.ProcessAnswers.
//
// # Snapshots
//
// Tasks read the resource once under the attache's lock and then work on
// that snapshot unlocked. A concurrent Disconnect clears the shared field but
// never the snapshot, so in-flight work runs to completion against the old
// resource.
//
// # Leak detection
//
// Tracker keeps every live attache. Release is the destruction-time check:
// an attache released while still bound to a resource is logged as lost and
// disconnected with an alert status. Sweep and CloseAll audit the whole set.
package attache

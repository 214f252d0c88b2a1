// Package manager coordinates the attaches of every managed host.
//
// # Overview
//
// The Manager owns one attache.Direct per connected host. It is the
// attache.Manager the attaches call back into: pings arrive through
// HandleCommands, command results through ProcessAnswers, and lost-agent
// signals through DisconnectWithInvestigation.
//
//	mgr := manager.New(manager.Params{Store: st, Pool: pool, PingInterval: time.Minute})
//	d, err := mgr.Connect(ctx, manager.HostSpec{ID: 1, Name: "node-1"}, res)
//
// # Request/Response Correlation
//
// Send assigns a sequence, registers a waiter, and hands the request to the
// attache. When the command task finishes, ProcessAnswers looks the
// sequence up:
//
//  1. A waiting caller gets the response through a buffered channel
//  2. Otherwise every answer is saved as a store.CommandResult
//
// Cron requests scheduled with Schedule never have a waiter, so each run is
// persisted under the sequence Schedule returned.
//
// # Investigations
//
// A ping task that cannot get a status asks for an investigation. Only one
// runs per host at a time. After the investigation delay the attache is
// probed again; a status refutes the signal, no status disconnects the host
// with an alert.
//
// # Leak Detection
//
// Every attache is registered with an attache.Tracker. Run sweeps it
// periodically for open attaches the manager no longer owns, and Shutdown
// closes whatever is left after all hosts are disconnected.
package manager

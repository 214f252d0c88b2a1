// ABOUTME: Host lifecycle vocabulary shared by attaches, the manager, and the store.
// ABOUTME: Status is where a host is; Event is what moved it there.

package host

// Status is the connection state of a managed host.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusUp           Status = "up"
	StatusDown         Status = "down"
	StatusDisconnected Status = "disconnected"
	StatusAlert        Status = "alert"
	StatusMaintenance  Status = "maintenance"
	StatusRemoved      Status = "removed"
)

// String returns the status name.
func (s Status) String() string { return string(s) }

// Event names a lifecycle transition.
type Event string

const (
	EventAgentConnected       Event = "agent_connected"
	EventAgentDisconnected    Event = "agent_disconnected"
	EventPingReceived         Event = "ping_received"
	EventReconnected          Event = "reconnected"
	EventShutdownRequested    Event = "shutdown_requested"
	EventManagementServerDown Event = "management_server_down"
	EventInvestigationRefuted Event = "investigation_refuted"
	EventAttacheLeaked        Event = "attache_leaked"
)

// String returns the event name.
func (e Event) String() string { return string(e) }

// IsDisconnect reports whether e is an event that ends a host's session.
func (e Event) IsDisconnect() bool {
	switch e {
	case EventShutdownRequested, EventAgentDisconnected, EventManagementServerDown:
		return true
	}
	return false
}

// Status maps an event to the status a host should end up in.
func (e Event) Status() Status {
	switch e {
	case EventAgentConnected, EventPingReceived, EventInvestigationRefuted:
		return StatusUp
	case EventAgentDisconnected, EventAttacheLeaked:
		return StatusAlert
	case EventShutdownRequested:
		return StatusRemoved
	case EventManagementServerDown, EventReconnected:
		return StatusDisconnected
	default:
		return StatusDown
	}
}

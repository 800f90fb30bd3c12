package wire

// EventKind is a closed sum type for catalog delta kinds, replacing the
// free-form event "type" strings of the source system per spec.md §9.
type EventKind string

const (
	EventRegister          EventKind = "register"
	EventUnregister         EventKind = "unregister"
	EventStatusChanged      EventKind = "status"
	EventCapabilityChanged  EventKind = "capability_changed"
	EventWelcome            EventKind = "welcome"
	EventPong               EventKind = "pong"
	EventError              EventKind = "error"
	EventToolsList          EventKind = "tools_list"
)

// ServiceSnapshot is the wire projection of a running (or stopped) service,
// used both in individual events and in the initial snapshot sent to new
// subscribers.
type ServiceSnapshot struct {
	ServiceID      string            `json:"service_id"`
	DisplayName    string            `json:"display_name"`
	Status         string            `json:"status"`
	Healthy        bool              `json:"healthy"`
	ActualEndpoint string            `json:"actual_endpoint,omitempty"`
	Actions        []string          `json:"actions,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	LastError      string            `json:"last_error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Event is the normative wire schema for the broadcast event stream
// (spec.md §6, §9: "the wire schema here is normative"). In-process
// subscribers receive the richer monitor.Transition type, which projects
// losslessly onto this struct via Transition.Project().
type Event struct {
	Type      EventKind         `json:"type"`
	ToolID    string            `json:"tool_id,omitempty"`
	Service   *ServiceSnapshot  `json:"service,omitempty"`
	Tools     []ServiceSnapshot `json:"tools,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// ClientMessage is a message a websocket client may send to the broadcast endpoint.
type ClientMessage struct {
	Type   string   `json:"type"` // ping | get_tools | subscribe
	Events []string `json:"events,omitempty"`
}

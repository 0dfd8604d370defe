package bump

// BumpKit event types, routed over the MessageBus to configured receivers
// (log files, HTTP callbacks).

// Interface for any event
type EventType interface {
	Type() string
}

// slice of all event types for config funcs lookup
var EVENT_TYPES []EventType = []EventType{
	EVENT_ALL("ALL"),
	EVENT_SYS("SYS"),
	EVENT_NET("NET"),
	EVENT_PKG("PKG"),
}

// Special category, do not use directly, represents *
type EVENT_ALL string

func (e EVENT_ALL) Type() string {
	return "ALL"
}

// System Events
type EVENT_SYS string

func (e EVENT_SYS) Type() string {
	return "SYS"
}

const (
	SYS_STARTUP EVENT_SYS = "STARTUP"
	SYS_ERR     EVENT_SYS = "ERR"
	SYS_MSG     EVENT_SYS = "MSG"
)

// Network Events (from the node)
type EVENT_NET string

func (e EVENT_NET) Type() string {
	return "NET"
}

const (
	NET_TX    EVENT_NET = "TX"
	NET_BLOCK EVENT_NET = "BLOCK"
)

// Package lifecycle events
type EVENT_PKG string

func (e EVENT_PKG) Type() string {
	return "PKG"
}

const (
	PKG_BUILT      EVENT_PKG = "BUILT"
	PKG_BROADCAST  EVENT_PKG = "BROADCAST"
	PKG_ADVANCED   EVENT_PKG = "ADVANCED"
	PKG_SUPERSEDED EVENT_PKG = "SUPERSEDED"
	PKG_CONFIRMED  EVENT_PKG = "CONFIRMED"
	PKG_PARTIAL    EVENT_PKG = "PARTIAL"
)

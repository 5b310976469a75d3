package types

import "time"

// ListenerStatus is the state of the HTTP listener.
type ListenerStatus struct {
	State string `json:"state"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
	// URL is empty unless State is "listening".
	URL string `json:"url,omitempty"`
}

// BackendStatus describes the active storage backend.
type BackendStatus struct {
	Active bool   `json:"active"`
	Mode   string `json:"mode,omitempty"`
	Detail string `json:"detail,omitempty"`
	// LastError is the error of the most recent failed swap, cleared by the
	// next successful one.
	LastError string `json:"last_error,omitempty"`
}

// TailStatus describes the log tail subscription.
type TailStatus struct {
	Active bool   `json:"active"`
	File   string `json:"file,omitempty"`
}

// Status is a point-in-time snapshot of the reconfigurable components.
type Status struct {
	UUID        string         `json:"uuid"`
	Listener    ListenerStatus `json:"listener"`
	Backend     BackendStatus  `json:"backend"`
	Tail        TailStatus     `json:"tail"`
	GeneratedAt time.Time      `json:"generated_at"`
}

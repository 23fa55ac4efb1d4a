package domain

import "time"

// ConnectionStatusLine is what the UI shows for one connection.
type ConnectionStatusLine struct {
	ConnectionID   ConnectionID `json:"connection_id"`
	Name           string       `json:"name"`
	State          string       `json:"state"`
	Bandwidth      string       `json:"bandwidth"`
	Traffic        string       `json:"traffic"`
	LossIncreasing bool         `json:"loss_increasing"`
}

type StatusUpdate struct {
	SessionID   string                 `json:"session_id"`
	Elapsed     time.Duration          `json:"elapsed"`
	ElapsedText string                 `json:"elapsed_text"`
	Connections []ConnectionStatusLine `json:"connections"`
	At          time.Time              `json:"at"`
}

// Notice is a short toast-style message keyed by connection name.
type Notice struct {
	ConnectionName string    `json:"connection_name"`
	Message        string    `json:"message"`
	Kind           string    `json:"kind"`
	At             time.Time `json:"at"`
}

// BroadcastSession identifies one start/stop cycle.
type BroadcastSession struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

package models

// TurnClockState is the authoritative position of the session turn clock.
// There is exactly one instance per session; only the clock's own tick loop
// mutates it.
type TurnClockState struct {
	TurnIndex        int `json:"turn_index"`
	SecondsRemaining int `json:"seconds_remaining"`
}

package gripper

import "time"

// Sample is the latest known gripper state. It is continuously
// overwritten; there is no history.
type Sample struct {
	Position     float64   `json:"position"`     // finger opening, mm
	Speed        float64   `json:"speed"`        // mm/s
	Force        float64   `json:"force"`        // N
	Acceleration float64   `json:"acceleration"` // mm/s²
	StateText    string    `json:"stateText"`
	ObjectHeld   bool      `json:"objectHeld"`
	Stamp        time.Time `json:"stamp"`
}

// MotionEvent reports a transition of the moving state derived from
// motion-command acknowledgments in Streaming Mode.
type MotionEvent struct {
	Moving bool   `json:"moving"`
	Status Status `json:"status"`
}

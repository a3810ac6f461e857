package types

// ControlState is the floating control's position and visibility
type ControlState struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Visible  bool    `json:"visible"`
	Dragging bool    `json:"dragging"`
}

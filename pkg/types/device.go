package types

// Device is one entry of `adb devices -l`
type Device struct {
	ID       string `json:"id"`
	State    string `json:"state"` // "device", "offline", "unauthorized", ...
	Model    string `json:"model,omitempty"`
	Product  string `json:"product,omitempty"`
	Wireless bool   `json:"wireless"`
}

// Online reports whether adb can talk to the device
func (d Device) Online() bool {
	return d.State == "device"
}

// ScreenSize is the display size reported by `wm size`
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

package types

import "time"

// View is the read projection handed to subscribers. It is a copy; mutating
// it has no effect on the registry.
type View struct {
	UUID         string          `json:"uuid"`
	Errors       []error         `json:"-"`
	Events       []OutputMessage `json:"events"`
	Loading      bool            `json:"loading"`
	Status       StreamState     `json:"status"`
	Kernel       KernelIdentity  `json:"kernel"`
	KernelStatus KernelStatus    `json:"kernel_status"`
	// Resets counts wholesale replacements of Events, so an observer
	// holding a prefix knows when it has to start over
	Resets uint64 `json:"resets"`
}

// ErrorStrings renders Errors for JSON transport.
func (v View) ErrorStrings() []string {
	out := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		out[i] = err.Error()
	}
	return out
}

// UIState is small interaction state a UI restores after reload.
type UIState struct {
	ScrollTop  float64         `json:"scroll_top"`
	ScrollLeft float64         `json:"scroll_left"`
	Collapsed  map[string]bool `json:"collapsed,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

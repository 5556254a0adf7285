package models

// Outbound event names emitted by sessions and generators.
const (
	EventWorkflow           = "workflow"
	EventScreencast         = "screencast"
	EventURLChanged         = "urlChanged"
	EventTabs               = "tabs"
	EventDecision           = "decision"
	EventShowDropdown       = "showDropdown"
	EventShowDatePicker     = "showDatePicker"
	EventShowTimePicker     = "showTimePicker"
	EventShowDateTimePicker = "showDateTimePicker"
	EventInterpretDone      = "interpretationDone"
	EventSessionError       = "sessionError"
)

// Inbound input event types accepted on the session socket.
const (
	InputClick          = "click"
	InputWheel          = "wheel"
	InputMouseMove      = "mousemove"
	InputKeyDown        = "keydown"
	InputKeyUp          = "keyup"
	InputNavigate       = "navigate"
	InputRefresh        = "refresh"
	InputBack           = "back"
	InputForward        = "forward"
	InputDateSelect     = "selectDate"
	InputTimeSelect     = "selectTime"
	InputDateTimeSelect = "selectDateTime"
	InputDropdownSelect = "selectDropdown"
	InputCustomAction   = "customAction"
	InputDecision       = "decision"
	InputAddTab         = "addTab"
	InputSwitchTab      = "switchTab"
	InputCloseTab       = "closeTab"
	InputListMode       = "listMode"
	InputPagination     = "paginationMode"
	InputScreencast     = "screencast"
)

// InputEvent is one message received from a client.
type InputEvent struct {
	Type     string  `json:"type"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	DeltaX   float64 `json:"deltaX,omitempty"`
	DeltaY   float64 `json:"deltaY,omitempty"`
	Key      string  `json:"key,omitempty"`
	URL      string  `json:"url,omitempty"`
	Selector string  `json:"selector,omitempty"`
	Value    string  `json:"value,omitempty"`
	Action   string  `json:"action,omitempty"`
	Settings any     `json:"settings,omitempty"`
	Index    int     `json:"index,omitempty"`
	Enabled  bool    `json:"enabled,omitempty"`
	Accept   bool    `json:"accept,omitempty"`
}

// OutboundMessage wraps an emitted event for the socket.
type OutboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// DecisionPrompt asks the client whether the last used selector should be
// scoped to a custom action.
type DecisionPrompt struct {
	Pair       Rule   `json:"pair"`
	ActionType string `json:"actionType"`
	Selector   string `json:"selector"`
	LastAction string `json:"lastAction"`
	TagName    string `json:"tagName,omitempty"`
	InnerText  string `json:"innerText,omitempty"`
}

// OverlayPrompt asks the client to surface a value picker for an element
// that cannot be replayed by clicking.
type OverlayPrompt struct {
	Selector string         `json:"selector"`
	Kind     string         `json:"kind"`
	Value    string         `json:"value,omitempty"`
	Options  []SelectOption `json:"options,omitempty"`
	X        float64        `json:"x"`
	Y        float64        `json:"y"`
	Width    float64        `json:"width"`
	Height   float64        `json:"height"`
}

// SelectOption is one option of a dropdown.
type SelectOption struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected,omitempty"`
	Disabled bool   `json:"disabled,omitempty"`
}

package model

// Account is a read-only snapshot of the gateway account configuration.
// The core fetches it once per operation and never mutates it.
type Account struct {
	BaseURL       string  `json:"baseUrl"`
	APIToken      string  `json:"apiToken"`
	Sender        string  `json:"sender"`
	ServiceLabel  string  `json:"serviceLabel"`
	WebhookSecret string  `json:"webhookSecret"`
	MinCredits    float64 `json:"minCredits"`

	// CheckMinCredits enables the periodic low-credit alert.
	CheckMinCredits bool `json:"checkMinCredits"`
}

// SenderName resolves the sender identity shown on recipients' phones:
// configured sender, else the service label, else a fixed fallback.
func (a Account) SenderName() string {
	if a.Sender != "" {
		return a.Sender
	}
	if a.ServiceLabel != "" {
		return a.ServiceLabel
	}
	return "smsbridge"
}

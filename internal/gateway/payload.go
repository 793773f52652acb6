package gateway

import (
	"strconv"
	"strings"

	"github.com/cbruun/smsbridge/internal/model"
)

// CallbackPath is where the gateway posts delivery reports back to us.
const CallbackPath = "/gatewayapi/dlr"

const encodingUCS2 = "UCS2"

type Recipient struct {
	MSISDN uint64 `json:"msisdn"`
}

// Payload is one item of the JSON array posted to /rest/mtsms. UserRef
// carries the message's correlation id and is echoed back in the
// submission response.
type Payload struct {
	Sender      string      `json:"sender"`
	Message     string      `json:"message"`
	Recipients  []Recipient `json:"recipients"`
	UserRef     string      `json:"userref"`
	CallbackURL string      `json:"callback_url,omitempty"`
	Encoding    string      `json:"encoding,omitempty"`
}

// BuildPayload turns a message plus account snapshot into a wire payload.
// ok is false when the message has no usable recipient number; such a
// message must never reach the gateway.
func BuildPayload(msg model.Message, acct model.Account, publicBaseURL string) (Payload, bool) {
	msisdn, ok := parseMSISDN(msg.Recipient)
	if !ok {
		return Payload{}, false
	}

	p := Payload{
		Sender:      acct.SenderName(),
		Message:     msg.Body,
		Recipients:  []Recipient{{MSISDN: msisdn}},
		UserRef:     msg.CorrelationID,
		CallbackURL: callbackURL(publicBaseURL),
	}
	if needsUCS2(msg.Body) {
		p.Encoding = encodingUCS2
	}
	return p, true
}

func callbackURL(publicBaseURL string) string {
	if publicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(publicBaseURL, "/") + CallbackPath
}

// parseMSISDN reduces an E.164-ish number to its bare digits.
func parseMSISDN(number string) (uint64, bool) {
	var b strings.Builder
	for _, r := range number {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-' || r == '(' || r == ')':
			// formatting noise
		default:
			return 0, false
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(b.String(), 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// needsUCS2 reports whether the body contains characters outside the
// GSM-7 friendly range: emoji and pictograph blocks force the alternate
// encoding so the gateway does not mangle them.
func needsUCS2(body string) bool {
	for _, r := range body {
		switch {
		case r >= 0x1F600 && r <= 0x1F64F: // emoticons
			return true
		case r >= 0x1F300 && r <= 0x1F5FF: // symbols & pictographs
			return true
		case r >= 0x1F680 && r <= 0x1F6FF: // transport & map symbols
			return true
		case r >= 0x1F1E6 && r <= 0x1F1FF: // regional indicator pairs
			return true
		case r >= 0x2700 && r <= 0x27BF: // dingbats
			return true
		case r >= 0x1F900 && r <= 0x1F9FF: // supplemental pictographs
			return true
		case r >= 0x2600 && r <= 0x26FF: // miscellaneous symbols
			return true
		}
	}
	return false
}

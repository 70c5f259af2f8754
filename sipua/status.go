package sipua

import (
	"github.com/ghettovoice/gosip/sip"

	"sip2gate/gate"
)

// classify maps an INVITE response code to the call state it implies.
func classify(code sip.StatusCode) gate.CallState {
	switch {
	case code == 100:
		return gate.CallTrying
	case code == 180 || code == 183:
		return gate.CallRinging
	case code < 200:
		// other provisional responses say nothing new
		return gate.CallTrying
	case code < 300:
		return gate.CallAnswered
	}
	switch code {
	case 486, 600, 603:
		return gate.CallBusy
	case 404, 484, 604:
		return gate.CallRejected
	default:
		return gate.CallEnded
	}
}

// Package notify forwards gate status changes to other systems.
package notify

import (
	"time"

	"github.com/goccy/go-json"

	"sip2gate/gate"
)

// Event is the payload published for every status change.
type Event struct {
	Status      gate.Status `json:"status"`
	DisplayName string      `json:"display_name"`
	GateNumber  string      `json:"gate_number"`
	SIPServer   string      `json:"sip_server"`
	At          time.Time   `json:"at"`
}

func NewEvent(status gate.Status, cfg gate.Config, at time.Time) Event {
	return Event{
		Status:      status,
		DisplayName: status.DisplayName(),
		GateNumber:  cfg.Number,
		SIPServer:   cfg.Server,
		At:          at.UTC(),
	}
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvent(data []byte) (Event, error) {
	var e Event
	err := json.Unmarshal(data, &e)
	return e, err
}

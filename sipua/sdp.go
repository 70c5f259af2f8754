package sipua

import (
	"time"

	"github.com/pixelbender/go-sdp/sdp"
)

// buildOffer returns the audio offer sent with INVITE. The gate only has to
// see the call; no media is exchanged, so the port is advertised but not
// served.
func buildOffer(host string, port int) string {
	session := &sdp.Session{
		Origin: &sdp.Origin{
			Username:       "-",
			Address:        host,
			SessionID:      time.Now().UnixNano() / 1e6,
			SessionVersion: time.Now().UnixNano() / 1e6,
		},
		Timing: &sdp.Timing{Start: time.Time{}, Stop: time.Time{}},
		Connection: &sdp.Connection{
			Address: host,
		},
		Media: []*sdp.Media{
			{
				Mode:  sdp.SendRecv,
				Type:  "audio",
				Port:  port,
				Proto: "RTP/AVP",
				Format: []*sdp.Format{
					{Payload: 0, Name: "PCMU", ClockRate: 8000},
					{Payload: 8, Name: "PCMA", ClockRate: 8000},
					{Payload: 101, Name: "telephone-event", ClockRate: 8000, Params: []string{"0-16"}},
				},
			},
		},
	}
	return session.String()
}

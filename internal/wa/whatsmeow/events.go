package whatsmeow

import (
	"time"

	"github.com/zulandar/raceline/internal/wa"
	wm "go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

// translate maps a whatsmeow event to a wa.Event. Events the lifecycle does
// not care about report false.
func translate(sessionID string, raw interface{}) (wa.Event, bool) {
	evt := wa.Event{SessionID: sessionID, At: time.Now()}
	switch e := raw.(type) {
	case *events.Connected:
		evt.Kind = wa.EventConnected
	case *events.Disconnected:
		evt.Kind = wa.EventDisconnected
		evt.Reason = wa.ReasonNetwork
	case *events.LoggedOut:
		evt.Kind = wa.EventDisconnected
		evt.Reason = wa.ReasonLoggedOut
	case *events.StreamReplaced:
		evt.Kind = wa.EventDisconnected
		evt.Reason = wa.ReasonReplaced
	case *events.ConnectFailure:
		evt.Kind = wa.EventDisconnected
		evt.Reason = wa.ReasonNetwork
		if e.Reason.IsLoggedOut() {
			evt.Reason = wa.ReasonLoggedOut
		}
	case *events.TemporaryBan:
		evt.Kind = wa.EventDisconnected
		evt.Reason = wa.ReasonNetwork
	case *events.Message:
		evt.Kind = wa.EventMessageReceived
		evt.From = e.Info.Sender.User
		evt.Text = e.Message.GetConversation()
		if evt.Text == "" {
			evt.Text = e.Message.GetExtendedTextMessage().GetText()
		}
	default:
		return wa.Event{}, false
	}
	return evt, true
}

// translateQR maps a QR channel item. "success" reports false because the
// Connected event follows it.
func translateQR(sessionID string, item wm.QRChannelItem) (wa.Event, bool) {
	evt := wa.Event{SessionID: sessionID, At: time.Now()}
	switch item.Event {
	case "code":
		evt.Kind = wa.EventQRUpdated
		evt.QR = item.Code
	case "success":
		return wa.Event{}, false
	case "timeout":
		evt.Kind = wa.EventDisconnected
		evt.Reason = wa.ReasonQRExpired
	default:
		evt.Kind = wa.EventDisconnected
		evt.Reason = wa.ReasonNetwork
	}
	return evt, true
}

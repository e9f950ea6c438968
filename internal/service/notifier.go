package service

// Live feed events pushed to dashboards.
const (
	EventDeviceStatus     = "device_status"
	EventCommandIssued    = "command_issued"
	EventCommandDelivered = "command_delivered"
	EventEnrolled         = "enrolled"
	EventSimChanged       = "sim_changed"
	EventVerification     = "verification"
)

// Notifier fans an event out to the dashboards watching dealerID.
type Notifier interface {
	Publish(dealerID, event string, payload interface{})
}

type nopNotifier struct{}

func (nopNotifier) Publish(string, string, interface{}) {}

func notifierOrNop(n Notifier) Notifier {
	if n == nil {
		return nopNotifier{}
	}
	return n
}

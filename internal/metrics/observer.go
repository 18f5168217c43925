package metrics

// HubObserver receives broadcast hub events.
type HubObserver interface {
	IncOnline()
	DecOnline()
	RecordPush(deliveries int)
	RecordSlowConsumer()
	ObservePublishLatency(seconds float64)
}

// StoreObserver receives the outcome and latency of every flag write.
type StoreObserver interface {
	ObserveWrite(outcome string, seconds float64)
}

// Write outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeConflict  = "conflict"
	OutcomeStoreFail = "store_error"
)

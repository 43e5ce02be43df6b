package handler

// Metrics is the slice of the metrics collector the handlers record
// into. A nil Metrics disables recording, which is what the tests use.
type Metrics interface {
	RecordCardCreated()
	RecordCardDeleted()
	RecordCardRejected(reason string)
	RecordQREncode()
	RecordSignup()
	RecordEmailConfirmed()
}

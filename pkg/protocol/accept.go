package protocol

import "time"

const (
	acceptRetryStep = 100 * time.Millisecond
	acceptRetryMax  = 2 * time.Second
)

// AcceptBackoff returns how long an accept loop sleeps after its nth
// consecutive Accept failure: 100ms per failure, capped at 2s.
func AcceptBackoff(failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	if failures >= int(acceptRetryMax/acceptRetryStep) {
		return acceptRetryMax
	}
	return time.Duration(failures) * acceptRetryStep
}

package metrics

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeSource struct {
	ledger      atomic.Int64
	subscribers atomic.Int64
	ledgerErr   error
}

func (f *fakeSource) LedgerCount() (int, error) {
	return int(f.ledger.Load()), f.ledgerErr
}

func (f *fakeSource) SubscriberCount() int {
	return int(f.subscribers.Load())
}

func TestCollectorSamplesSource(t *testing.T) {
	src := &fakeSource{}
	src.ledger.Store(42)
	src.subscribers.Store(3)

	c := NewCollector(src, 10*time.Millisecond)
	c.Start()
	defer c.Stop()

	assert.Eventually(t, func() bool {
		return gaugeValue(t, LedgerEntries) == 42 &&
			gaugeValue(t, SubscribersConnected) == 3
	}, time.Second, 5*time.Millisecond)

	src.subscribers.Store(1)
	assert.Eventually(t, func() bool {
		return gaugeValue(t, SubscribersConnected) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCollectorKeepsLedgerGaugeOnError(t *testing.T) {
	LedgerEntries.Set(7)
	src := &fakeSource{ledgerErr: errors.New("database closed")}

	c := NewCollector(src, time.Hour)
	c.collect()

	assert.Equal(t, float64(7), gaugeValue(t, LedgerEntries))
}

func TestNewCollectorDefaultInterval(t *testing.T) {
	c := NewCollector(&fakeSource{}, 0)
	assert.Equal(t, 15*time.Second, c.interval)
}

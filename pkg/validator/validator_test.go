package validator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/protocol/prototest"
	"github.com/cuemby/comet/pkg/storage"
	"github.com/cuemby/comet/pkg/types"
)

func newEvent(t *testing.T, ivorn string) *types.Event {
	t.Helper()
	ev, err := protocol.ParseEvent(prototest.VOEvent(ivorn, types.RoleObservation), "127.0.0.1:5000", time.Now())
	require.NoError(t, err)
	return ev
}

func newLedger(t *testing.T) storage.Ledger {
	t.Helper()
	l, err := storage.NewBoltLedger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// brokenLedger fails every operation
type brokenLedger struct{}

var errBroken = errors.New("disk on fire")

func (brokenLedger) Seen(string) (bool, error)           { return false, errBroken }
func (brokenLedger) Record(string) error                 { return errBroken }
func (brokenLedger) CheckAndRecord(string) (bool, error) { return false, errBroken }
func (brokenLedger) Get(string) (*storage.Entry, error)  { return nil, errBroken }
func (brokenLedger) Count() (int, error)                 { return 0, errBroken }
func (brokenLedger) Close() error                        { return nil }

func TestCheckPreviouslySeenRejectsDuplicate(t *testing.T) {
	ledger := newLedger(t)
	v := CheckPreviouslySeen(ledger)
	ev := newEvent(t, "ivo://test/dup#1")

	require.NoError(t, v.Validate(context.Background(), ev))

	err := v.Validate(context.Background(), ev)
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, "duplicate", err.Error())

	seen, err := ledger.Seen(ev.IVORN)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestCheckPreviouslySeenAcceptsOnLedgerError(t *testing.T) {
	v := CheckPreviouslySeen(brokenLedger{})
	ev := newEvent(t, "ivo://test/broken#1")

	assert.NoError(t, v.Validate(context.Background(), ev))
	assert.NoError(t, v.Validate(context.Background(), ev))
}

func TestPipelineAcceptsWhenAllPass(t *testing.T) {
	p := NewPipeline(CheckPreviouslySeen(newLedger(t)), NewSchemaValidator())

	result := p.Run(context.Background(), newEvent(t, "ivo://test/ok#1"))

	assert.True(t, result.Accepted)
	assert.Empty(t, result.Validator)
	assert.Empty(t, result.Reason)
}

func TestPipelineShortCircuits(t *testing.T) {
	var calls []string
	record := func(name string, err error) Validator {
		return NewFunc(name, func(context.Context, *types.Event) error {
			calls = append(calls, name)
			return err
		})
	}

	p := NewPipeline(
		record("first", nil),
		record("second", errors.New("not today")),
		record("third", nil),
	)

	result := p.Run(context.Background(), newEvent(t, "ivo://test/sc#1"))

	assert.False(t, result.Accepted)
	assert.Equal(t, "second", result.Validator)
	assert.Equal(t, "not today", result.Reason)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestPipelineDuplicateSubmission(t *testing.T) {
	p := NewPipeline(CheckPreviouslySeen(newLedger(t)), NewSchemaValidator())
	ev := newEvent(t, "ivo://test/twice#1")

	first := p.Run(context.Background(), ev)
	second := p.Run(context.Background(), ev)

	assert.True(t, first.Accepted)
	assert.False(t, second.Accepted)
	assert.Equal(t, "previously-seen", second.Validator)
	assert.Equal(t, "duplicate", second.Reason)
}

func TestPipelineAppendAndNames(t *testing.T) {
	p := NewPipeline(NewSchemaValidator())
	p.Append(NewFunc("extra", func(context.Context, *types.Event) error { return nil }))

	assert.Equal(t, []string{"schema", "extra"}, p.Names())
}

func TestEmptyPipelineAccepts(t *testing.T) {
	result := NewPipeline().Run(context.Background(), newEvent(t, "ivo://test/empty#1"))
	assert.True(t, result.Accepted)
}

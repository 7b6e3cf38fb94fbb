package broker

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/comet/pkg/client"
	"github.com/cuemby/comet/pkg/config"
	"github.com/cuemby/comet/pkg/handler"
	"github.com/cuemby/comet/pkg/protocol"
	"github.com/cuemby/comet/pkg/protocol/prototest"
	"github.com/cuemby/comet/pkg/types"
	"github.com/cuemby/comet/pkg/validator"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.LocalIVO = "ivo://test/broker"
	cfg.ReceiverAddr = "127.0.0.1:0"
	cfg.PublisherAddr = "127.0.0.1:0"
	cfg.IVORNDB = t.TempDir()
	cfg.Subscriber.MinBackoff = 10 * time.Millisecond
	cfg.Subscriber.MaxBackoff = 50 * time.Millisecond
	return cfg
}

func startBroker(t *testing.T, cfg *config.Config, opts ...Option) *Broker {
	t.Helper()
	b, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, b.Start(context.Background()))
	t.Cleanup(b.Stop)
	return b
}

func subscribe(t *testing.T, b *Broker) net.Conn {
	t.Helper()
	before := b.SubscriberCount()
	conn, err := net.Dial("tcp", b.PublisherAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool {
		return b.SubscriberCount() == before+1
	}, 5*time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, b *Broker, payload []byte) types.Ack {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ack, err := client.Send(ctx, b.ReceiverAddr().String(), payload)
	require.NoError(t, err)
	return ack
}

// expectNothing asserts no frame arrives on conn within a short window
func expectNothing(t *testing.T, conn net.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, err := protocol.ReadFrame(conn, 0)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no frame, got err=%v", err)
}

type recorder struct {
	mu     sync.Mutex
	ivorns []string
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Handle(_ context.Context, ev *types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ivorns = append(r.ivorns, ev.IVORN)
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ivorns...)
}

func TestAuthorToSubscribers(t *testing.T) {
	b := startBroker(t, testConfig(t))
	s1 := subscribe(t, b)
	s2 := subscribe(t, b)

	payload := prototest.VOEvent("ivo://test/e2e#1", types.RoleObservation)
	ack := send(t, b, payload)
	require.True(t, ack.Accepted)
	assert.Equal(t, "ivo://test/broker", ack.Responder)

	assert.Equal(t, payload, prototest.Receive(t, s1))
	assert.Equal(t, payload, prototest.Receive(t, s2))
}

func TestDuplicateIsDeliveredOnce(t *testing.T) {
	rec := &recorder{}
	b := startBroker(t, testConfig(t), WithHandlers(rec))
	sub := subscribe(t, b)

	payload := prototest.VOEvent("ivo://test/once#1", types.RoleTest)
	require.True(t, send(t, b, payload).Accepted)
	assert.Equal(t, payload, prototest.Receive(t, sub))

	nak := send(t, b, payload)
	assert.False(t, nak.Accepted)
	assert.Equal(t, "duplicate", nak.Reason)

	expectNothing(t, sub)
	assert.Equal(t, []string{"ivo://test/once#1"}, rec.seen())

	count, err := b.LedgerCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFederation(t *testing.T) {
	upstream := startBroker(t, testConfig(t))

	downCfg := testConfig(t)
	downCfg.LocalIVO = "ivo://test/downstream"
	downCfg.Remotes = []string{upstream.PublisherAddr().String()}
	downstream := startBroker(t, downCfg)

	require.Eventually(t, func() bool {
		return upstream.SubscriberCount() == 1
	}, 5*time.Second, 5*time.Millisecond)
	sub := subscribe(t, downstream)

	payload := prototest.VOEvent("ivo://test/federated#1", types.RoleObservation)
	require.True(t, send(t, upstream, payload).Accepted)
	assert.Equal(t, payload, prototest.Receive(t, sub))

	// The downstream broker has recorded the IVORN and rejects a resubmission
	nak := send(t, downstream, payload)
	assert.False(t, nak.Accepted)
	assert.Equal(t, "duplicate", nak.Reason)
	expectNothing(t, sub)

	states := downstream.RemoteStates()
	assert.Equal(t, types.ConnStateActive, states[upstream.PublisherAddr().String()])
}

func TestFederationResumesAfterRemoteRestart(t *testing.T) {
	upCfg := testConfig(t)
	upstream := startBroker(t, upCfg)
	pubAddr := upstream.PublisherAddr().String()

	downCfg := testConfig(t)
	downCfg.Remotes = []string{pubAddr}
	downstream := startBroker(t, downCfg)
	sub := subscribe(t, downstream)

	require.Eventually(t, func() bool {
		return upstream.SubscriberCount() == 1
	}, 5*time.Second, 5*time.Millisecond)

	// Restart the upstream broker on the same publisher address
	upstream.Stop()
	require.Eventually(t, func() bool {
		return downstream.RemoteStates()[pubAddr] != types.ConnStateActive
	}, 5*time.Second, 5*time.Millisecond)

	upCfg.PublisherAddr = pubAddr
	restarted := startBroker(t, upCfg)
	require.Eventually(t, func() bool {
		return restarted.SubscriberCount() == 1
	}, 5*time.Second, 5*time.Millisecond)

	payload := prototest.VOEvent("ivo://test/resumed#1", types.RoleTest)
	require.True(t, send(t, restarted, payload).Accepted)
	assert.Equal(t, payload, prototest.Receive(t, sub))
}

func TestSaveEventPlugin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plugins = []string{"save-event"}
	cfg.SaveEventDir = filepath.Join(t.TempDir(), "events")
	b := startBroker(t, cfg)

	payload := prototest.VOEvent("ivo://test/saved#1", types.RoleTest)
	require.True(t, send(t, b, payload).Accepted)

	path := filepath.Join(cfg.SaveEventDir, handler.FilenameFor("ivo://test/saved#1"))
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && string(data) == string(payload)
	}, 5*time.Second, 5*time.Millisecond)
}

func TestUnknownPlugin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Plugins = []string{"slack"}

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown plugin "slack"`)
}

func TestExtraValidatorsAndHandlers(t *testing.T) {
	rec := &recorder{}
	noTests := validator.NewFunc("no-tests", func(_ context.Context, ev *types.Event) error {
		if ev.Role == types.RoleTest {
			return errors.New("test events not accepted")
		}
		return nil
	})
	b := startBroker(t, testConfig(t), WithValidators(noTests), WithHandlers(rec))

	assert.Equal(t, []string{"previously-seen", "schema", "no-tests"}, b.validators.Names())
	assert.Equal(t, []string{"relay", "recorder"}, b.handlers.Names())

	nak := send(t, b, prototest.VOEvent("ivo://test/extra#1", types.RoleTest))
	assert.False(t, nak.Accepted)
	assert.Equal(t, "test events not accepted", nak.Reason)

	require.True(t, send(t, b, prototest.VOEvent("ivo://test/extra#2", types.RoleObservation)).Accepted)
	assert.Equal(t, []string{"ivo://test/extra#2"}, rec.seen())
}

func TestSchemaFirstOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Validation.SchemaFirst = true
	b := startBroker(t, cfg)

	assert.Equal(t, []string{"schema", "previously-seen"}, b.validators.Names())

	// A schema failure no longer records the IVORN
	bad := []byte(`<VOEvent ivorn="ivo://test/order#1" role="gossip" version="2.0"/>`)
	assert.False(t, send(t, b, bad).Accepted)
	count, err := b.LedgerCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStartFailsOnUnusableLedger(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	cfg := testConfig(t)
	cfg.IVORNDB = filepath.Join(file, "db")
	b, err := New(cfg)
	require.NoError(t, err)

	err = b.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "IVORN ledger")
	b.Wait()
}

func TestStartFailsOnBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	cfg := testConfig(t)
	cfg.ReceiverAddr = ln.Addr().String()
	b, err := New(cfg)
	require.NoError(t, err)

	require.Error(t, b.Start(context.Background()))
	b.Wait()
}

func TestStopIsIdempotentAndContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b, err := New(testConfig(t))
	require.NoError(t, err)
	require.NoError(t, b.Start(ctx))
	require.Error(t, b.Start(ctx), "second start must fail")

	cancel()
	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("broker did not stop when its context was cancelled")
	}

	b.Stop()
	b.Stop()
}

func TestPluginNames(t *testing.T) {
	assert.Equal(t, []string{"save-event"}, PluginNames())
}

func TestDuplicateRemotesSubscribeOnce(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remotes = []string{"127.0.0.1:1", "127.0.0.1:1"}

	b := startBroker(t, cfg)
	assert.Len(t, b.clients, 1)
	assert.Len(t, b.RemoteStates(), 1)
}

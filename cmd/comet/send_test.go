package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/comet/pkg/protocol/prototest"
	"github.com/cuemby/comet/pkg/receiver"
	"github.com/cuemby/comet/pkg/storage"
	"github.com/cuemby/comet/pkg/types"
	"github.com/cuemby/comet/pkg/validator"
)

func startReceiver(t *testing.T) string {
	t.Helper()
	ledger, err := storage.NewBoltLedger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	r := receiver.New(receiver.Config{
		ListenAddr: "127.0.0.1:0",
		LocalIVO:   "ivo://test/broker",
	}, validator.NewPipeline(validator.CheckPreviouslySeen(ledger), validator.NewSchemaValidator()), nil)
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)
	return r.Addr().String()
}

func newSendCmd(addr string, in []byte) (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{Use: "send", RunE: runSend}
	registerSendFlags(cmd)
	_ = cmd.Flags().Set("broker", addr)
	_ = cmd.Flags().Set("timeout", (5 * time.Second).String())

	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetIn(bytes.NewReader(in))
	cmd.SetContext(context.Background())
	return cmd, out
}

func TestRunSendReportsEachDocument(t *testing.T) {
	addr := startReceiver(t)

	dir := t.TempDir()
	first := filepath.Join(dir, "first.xml")
	again := filepath.Join(dir, "again.xml")
	payload := prototest.VOEvent("ivo://test/cli#1", types.RoleObservation)
	require.NoError(t, os.WriteFile(first, payload, 0o600))
	require.NoError(t, os.WriteFile(again, payload, 0o600))

	cmd, out := newSendCmd(addr, nil)
	err := runSend(cmd, []string{first, again})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 events rejected")

	assert.Contains(t, out.String(), "✓ "+first+" accepted (ivo://test/cli#1)")
	assert.Contains(t, out.String(), "✗ "+again+" rejected: duplicate")
}

func TestRunSendFromStdin(t *testing.T) {
	addr := startReceiver(t)

	cmd, out := newSendCmd(addr, prototest.VOEvent("ivo://test/cli#stdin", types.RoleTest))
	require.NoError(t, runSend(cmd, nil))
	assert.Contains(t, out.String(), "✓ stdin accepted (ivo://test/cli#stdin)")
}

func TestRunSendUnreachableBroker(t *testing.T) {
	cmd, _ := newSendCmd("127.0.0.1:1", prototest.VOEvent("ivo://test/cli#down", types.RoleTest))
	assert.Error(t, runSend(cmd, nil))
}

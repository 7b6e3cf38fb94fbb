package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBrokerCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "broker"}
	registerBrokerFlags(cmd)
	cmd.Flags().String("log-level", "info", "")
	cmd.Flags().Bool("log-json", false, "")
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestBrokerConfigDefaults(t *testing.T) {
	cfg, err := brokerConfig(newBrokerCmd(t))
	require.NoError(t, err)

	assert.Equal(t, ":8098", cfg.ReceiverAddr)
	assert.Equal(t, ":8099", cfg.PublisherAddr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Remotes)
}

func TestBrokerConfigFlagsOverrideFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
local_ivo: ivo://file.example/broker
publisher_addr: ":9099"
remotes: ["upstream.example.org"]
`), 0o600))

	cfg, err := brokerConfig(newBrokerCmd(t,
		"--config", path,
		"--local-ivo", "ivo://flag.example/broker",
		"--whitelist", "10.0.0.0/8,192.168.1.7",
		"--schema-first",
		"--log-level", "debug",
	))
	require.NoError(t, err)

	assert.Equal(t, "ivo://flag.example/broker", cfg.LocalIVO)
	assert.Equal(t, ":9099", cfg.PublisherAddr, "unset flags keep file values")
	assert.Equal(t, []string{"upstream.example.org"}, cfg.Remotes)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.7"}, cfg.Whitelist)
	assert.True(t, cfg.Validation.SchemaFirst)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestBrokerConfigRejectsInvalid(t *testing.T) {
	_, err := brokerConfig(newBrokerCmd(t, "--whitelist", "not-a-network"))
	assert.Error(t, err)

	_, err = brokerConfig(newBrokerCmd(t, "--local-ivo", "comet"))
	assert.Error(t, err)

	_, err = brokerConfig(newBrokerCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestReadDocuments(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.xml")
	require.NoError(t, os.WriteFile(a, []byte("<VOEvent/>"), 0o600))

	docs, err := readDocuments(nil, []string{a})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, a, docs[0].name)
	assert.Equal(t, "<VOEvent/>", string(docs[0].data))

	_, err = readDocuments(nil, []string{filepath.Join(dir, "missing.xml")})
	assert.Error(t, err)
}

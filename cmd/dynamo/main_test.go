package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamo/internal/config"
	"dynamo/internal/gateway"
	"dynamo/internal/node"
	"dynamo/internal/storage"
)

func TestParseFlags_Defaults(t *testing.T) {
	cfg, opts, args, err := parseFlags([]string{"--name", "n1", "--address", "127.0.0.1:9600"}, io.Discard)
	require.NoError(t, err)

	want := config.Default()
	want.Name = "n1"
	want.Address = "127.0.0.1:9600"
	assert.Equal(t, want, cfg)
	assert.Equal(t, "info", opts.logLevel)
	assert.False(t, opts.cli)
	assert.Empty(t, args)
}

func TestParseFlags_Seeds(t *testing.T) {
	cfg, _, _, err := parseFlags([]string{"--seeds", "a:1, b:2,"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:1", "b:2"}, cfg.Seeds)

	_, _, _, err = parseFlags([]string{"--seeds", "nohost"}, io.Discard)
	assert.Error(t, err)
}

func TestParseFlags_FileThenFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	yaml := `
name: from-file
address: 10.0.0.1:9600
seeds: ["10.0.0.2:9600"]
n: 5
r: 3
w: 3
store: badger
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, _, _, err := parseFlags([]string{
		"--config", path,
		"--name", "from-flag",
		"--w", "4",
		"--ttl", "7s",
	}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.Name)
	assert.Equal(t, "10.0.0.1:9600", cfg.Address)
	assert.Equal(t, []string{"10.0.0.2:9600"}, cfg.Seeds)
	assert.Equal(t, 5, cfg.N)
	assert.Equal(t, 3, cfg.R)
	assert.Equal(t, 4, cfg.W)
	assert.Equal(t, 7*time.Second, cfg.TTL)
	assert.Equal(t, "badger", cfg.Store)
	assert.Equal(t, 5, cfg.VNodes, "untouched keys keep defaults")
}

func TestParseFlags_CLI(t *testing.T) {
	_, opts, args, err := parseFlags([]string{"-cli", "-target", "h:1", "get", "b", "k"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, opts.cli)
	assert.Equal(t, "h:1", opts.target)
	assert.Equal(t, []string{"get", "b", "k"}, args)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(options{logLevel: "warn"}, &buf)
	require.NoError(t, err)
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	_, err = newLogger(options{logLevel: "loud"}, &buf)
	assert.Error(t, err)
}

func TestCheckArgs(t *testing.T) {
	tests := []struct {
		args    []string
		wantErr bool
	}{
		{nil, true},
		{[]string{"put", "b", "k", "v"}, false},
		{[]string{"put", "b", "k"}, true},
		{[]string{"members"}, false},
		{[]string{"members", "x"}, true},
		{[]string{"scan", "b"}, true},
	}
	for _, tt := range tests {
		err := checkArgs(tt.args)
		assert.Equal(t, tt.wantErr, err != nil, "%v", tt.args)
	}
}

func startGateway(t *testing.T) string {
	t.Helper()

	cfg := config.Default()
	cfg.Name = "solo"
	cfg.Address = "127.0.0.1:0"
	cfg.IOPort = 0
	cfg.AckPort = 0
	cfg.GossipInterval = 20 * time.Millisecond
	cfg.Store = "memory"
	cfg.DataDir = ""
	cfg.Rehash = false

	nd, err := node.New(cfg, storage.NewInMemoryStore(), zerolog.Nop())
	require.NoError(t, err)
	nd.Start()
	t.Cleanup(func() { nd.Stop() })

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	g := gateway.NewGRPCServer(gateway.NewServer(nd, zerolog.Nop()))
	go g.Serve(lis)
	t.Cleanup(g.Stop)

	return lis.Addr().String()
}

func TestRunCLI(t *testing.T) {
	target := startGateway(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := func(args ...string) string {
		var out bytes.Buffer
		require.NoError(t, runCLI(ctx, target, args, &out))
		return out.String()
	}

	assert.Contains(t, run("create-bucket", "users"), "Bucket users created successfully")
	assert.Contains(t, run("put", "users", "alice", "v1"), "OK")
	assert.Contains(t, run("get", "users", "alice"), "v1 v1")
	assert.Contains(t, run("route", "alice"), "1) solo")
	assert.Contains(t, run("members"), "self")
	assert.Contains(t, run("health"), "solo")
	assert.Contains(t, run("delete", "users", "alice"), "Record alice removed successfully")
	assert.Contains(t, run("get", "users", "alice"), "FAILED")

	var out bytes.Buffer
	assert.Error(t, runCLI(ctx, target, []string{"get", "users", ""}, &out))
}

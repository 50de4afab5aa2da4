package controlsocket_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acdtunes/fleetd/internal/adapters/persistence"
	"github.com/acdtunes/fleetd/internal/application/common"
	"github.com/acdtunes/fleetd/internal/controlsocket"
	"github.com/acdtunes/fleetd/internal/domain/container"
	"github.com/acdtunes/fleetd/internal/runtime"
	"github.com/acdtunes/fleetd/test/helpers"
)

type okHandler struct{}

func (okHandler) Handle(ctx context.Context, request common.Request) (common.Response, error) {
	return "ok", nil
}

type socketCommand struct{}

type socketRunnable struct{}

func (socketRunnable) Next(int) (common.Request, bool, error) {
	return &socketCommand{}, true, nil
}

type serverFixture struct {
	path    string
	server  *controlsocket.Server
	client  *controlsocket.Client
	logRepo *persistence.GormContainerLogRepository
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	db := helpers.NewTestDB(t)
	mediator := common.NewMediator()
	require.NoError(t, common.RegisterHandler[*socketCommand](mediator, okHandler{}))

	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register("test-cmd", container.KindCommand,
		func(spec container.Spec, playerID int) (runtime.Runnable, error) {
			return socketRunnable{}, nil
		}))

	containerRepo := persistence.NewContainerRepository(db)
	logRepo := persistence.NewGormContainerLogRepository(db, nil)
	assignRepo := persistence.NewShipAssignmentRepository(db)

	supervisor := runtime.NewSupervisor(
		mediator, registry, containerRepo, logRepo, assignRepo, nil, nil,
		runtime.Options{GracePeriod: 2 * time.Second},
	)

	// Unix socket paths are length-limited; keep it short.
	path := filepath.Join(t.TempDir(), "d.sock")
	server := controlsocket.NewServer(path, supervisor)
	require.NoError(t, server.Listen())
	go func() { _ = server.Serve() }()
	t.Cleanup(func() { _ = server.Close() })

	return &serverFixture{
		path:    path,
		server:  server,
		client:  controlsocket.NewClient(path),
		logRepo: logRepo,
	}
}

func TestServer_CreateListInspect(t *testing.T) {
	f := newServerFixture(t)

	var created controlsocket.CreateResult
	err := f.client.Call("container.create", controlsocket.CreateParams{
		ContainerID:   "c1",
		PlayerID:      1,
		ContainerType: "command",
		Config:        map[string]interface{}{"command": "test-cmd", "iterations": 2},
	}, &created)
	require.NoError(t, err)
	assert.Equal(t, "c1", created.ContainerID)
	assert.Equal(t, "PENDING", created.Status)

	var listed []controlsocket.ContainerSummary
	require.NoError(t, f.client.Call("container.list", controlsocket.ListParams{}, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "c1", listed[0].ContainerID)
	assert.Equal(t, "test-cmd", listed[0].Command)

	var inspected controlsocket.InspectResult
	require.NoError(t, f.client.Call("container.inspect", controlsocket.InspectParams{ContainerID: "c1"}, &inspected))
	assert.Equal(t, "c1", inspected.ContainerID)
	assert.Equal(t, 1, inspected.PlayerID)
	assert.Equal(t, "PENDING", inspected.Status)
	assert.Equal(t, 2, inspected.MaxIterations)
}

func TestServer_CreateDuplicateMapsToContainerExists(t *testing.T) {
	f := newServerFixture(t)

	params := controlsocket.CreateParams{
		ContainerID:   "c1",
		PlayerID:      1,
		ContainerType: "command",
		Config:        map[string]interface{}{"command": "test-cmd"},
	}
	require.NoError(t, f.client.Call("container.create", params, nil))

	err := f.client.Call("container.create", params, nil)
	var rpcErr *controlsocket.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, controlsocket.CodeContainerExists, rpcErr.Code)
}

func TestServer_UnknownContainerMapsToNotFound(t *testing.T) {
	f := newServerFixture(t)

	err := f.client.Call("container.stop", controlsocket.ContainerIDParams{ContainerID: "ghost"}, nil)
	var rpcErr *controlsocket.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, controlsocket.CodeContainerNotFound, rpcErr.Code)
}

func TestServer_MethodNotFound(t *testing.T) {
	f := newServerFixture(t)

	err := f.client.Call("container.explode", nil, nil)
	var rpcErr *controlsocket.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, controlsocket.CodeMethodNotFound, rpcErr.Code)
}

func TestServer_ParseError(t *testing.T) {
	f := newServerFixture(t)

	conn, err := net.Dial("unix", f.path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("this is not json"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	raw := readUntilEOF(t, conn)
	var resp controlsocket.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, controlsocket.CodeParseError, resp.Error.Code)
}

func TestServer_InvalidRequestEnvelope(t *testing.T) {
	f := newServerFixture(t)

	conn, err := net.Dial("unix", f.path)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(`{"method": ""}`))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.UnixConn).CloseWrite())

	raw := readUntilEOF(t, conn)
	var resp controlsocket.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, controlsocket.CodeInvalidRequest, resp.Error.Code)
}

// A large inspect reply (hundreds of KiB of logs) must arrive complete and
// in order; a client that loop-reads to EOF sees every byte the server sent.
func TestServer_LargeLogResponseArrivesComplete(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.Call("container.create", controlsocket.CreateParams{
		ContainerID:   "big",
		PlayerID:      1,
		ContainerType: "command",
		Config:        map[string]interface{}{"command": "test-cmd"},
	}, nil))

	// ~2000 distinct entries at ~300 bytes each comes to ~600 KiB of JSON.
	padding := strings.Repeat("x", 280)
	const entries = 2000
	for i := 0; i < entries; i++ {
		require.NoError(t, f.logRepo.Log(ctx, "big", 1, fmt.Sprintf("entry %04d %s", i, padding), "INFO", nil))
	}

	var inspected controlsocket.InspectResult
	require.NoError(t, f.client.Call("container.inspect", controlsocket.InspectParams{
		ContainerID: "big",
		IncludeLogs: true,
		LogLimit:    entries + 100,
	}, &inspected))

	require.Len(t, inspected.Logs, entries)
	for i, entry := range inspected.Logs {
		assert.True(t, strings.HasPrefix(entry.Message, fmt.Sprintf("entry %04d", i)),
			"log entry %d out of order: %.20s", i, entry.Message)
		if i > 0 {
			assert.Greater(t, entry.Sequence, inspected.Logs[i-1].Sequence)
		}
	}
}

// The server must not wait for the client to close its end: the reply is
// complete once written. A client that sends a full request but never closes
// its write side still gets its reply promptly.
func TestServer_DoesNotWaitForSlowClient(t *testing.T) {
	f := newServerFixture(t)

	conn, err := net.Dial("unix", f.path)
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	_, err = conn.Write([]byte(`{"jsonrpc":"2.0","method":"container.list","id":1}`))
	require.NoError(t, err)
	// Deliberately no CloseWrite: a wait-closed server would stall here.

	raw := readUntilEOF(t, conn)
	elapsed := time.Since(start)

	var resp controlsocket.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Nil(t, resp.Error)
	assert.Less(t, elapsed, 2*time.Second, "server stalled waiting on the client")
}

func TestServer_RemovesStaleSocketOnListen(t *testing.T) {
	f := newServerFixture(t)
	require.NoError(t, f.server.Close())

	// Rebinding over the leftover path must succeed.
	db := helpers.NewTestDB(t)
	mediator := common.NewMediator()
	registry := runtime.NewRegistry()
	supervisor := runtime.NewSupervisor(
		mediator, registry,
		persistence.NewContainerRepository(db),
		persistence.NewGormContainerLogRepository(db, nil),
		persistence.NewShipAssignmentRepository(db),
		nil, nil, runtime.Options{},
	)
	replacement := controlsocket.NewServer(f.path, supervisor)
	require.NoError(t, replacement.Listen())
	require.NoError(t, replacement.Close())
}

func readUntilEOF(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var data []byte
	buf := make([]byte, 8192)
	for {
		n, err := conn.Read(buf)
		data = append(data, buf[:n]...)
		if err != nil {
			return data
		}
	}
}

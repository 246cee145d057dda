package server

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/ingest"
	"track-svr/internal/store"
	"track-svr/internal/utilities"
)

const (
	rmcLine = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"
	ggaLine = "$GPGGA,092750.000,5321.6802,N,00630.3372,W,1,8,1.03,61.7,M,55.2,M,,*76"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startServer(t *testing.T) (*TcpServer, *store.SQLite, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.OpenSQLite(filepath.Join(dir, "gps.db"), store.WithLocation(time.UTC))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	srv := New(ingest.NewWriter(db, nil, nil, quietLogger()), nil, utilities.NewRawLog(filepath.Join(dir, "logs")), quietLogger())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	})
	return srv, db, ln.Addr().String()
}

func TestHandshakeAndNMEAIngest(t *testing.T) {
	srv, db, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("boat-1\r\n"))
	require.NoError(t, err)

	ack := make([]byte, 1)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, ack)
	require.NoError(t, err)
	assert.Equal(t, byte(HandshakeAck), ack[0])
	assert.Equal(t, []string{"boat-1"}, srv.Connected())

	w := bufio.NewWriter(conn)
	_, _ = w.WriteString(ggaLine + "\r\n")
	_, _ = w.WriteString("garbage\r\n")
	_, _ = w.WriteString(rmcLine + "\r\n")
	require.NoError(t, w.Flush())

	require.Eventually(t, func() bool {
		f, err := db.Latest(context.Background(), "boat-1")
		return err == nil && f != nil
	}, 2*time.Second, 10*time.Millisecond)

	f, err := db.Latest(context.Background(), "boat-1")
	require.NoError(t, err)
	require.NotNil(t, f.Satellites)
	assert.Equal(t, 8, *f.Satellites)
	assert.InDelta(t, 321.88, *f.Speed, 0.01)

	conn.Close()
	require.Eventually(t, func() bool { return len(srv.Connected()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHandshakeRejectsSentence(t *testing.T) {
	_, _, addr := startServer(t)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(rmcLine + "\n"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "server hangs up without an ack")
}

func TestValidDeviceID(t *testing.T) {
	t.Parallel()

	assert.True(t, validDeviceID("TucsonL"))
	assert.True(t, validDeviceID("860123456789012"))
	assert.False(t, validDeviceID(""))
	assert.False(t, validDeviceID("$GPRMC"))
	assert.False(t, validDeviceID("two words"))
}

package link

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-svr/internal/track"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestDisabledLinkIsNil(t *testing.T) {
	t.Parallel()

	c := New("", quietLogger())
	assert.Nil(t, c)
	assert.False(t, c.Connected())
	assert.NotPanics(t, func() {
		c.SendFix(track.Fix{DeviceID: "a"})
		c.SendDeviceEvent(DeviceInfo{DeviceID: "a"})
		c.Run(context.Background())
	})
}

func TestSendFixWithoutConnection(t *testing.T) {
	t.Parallel()

	c := New("127.0.0.1:1", quietLogger())
	assert.ErrorIs(t, c.sendNDJSON(map[string]int{"x": 1}), ErrNotConnected)
}

func TestClientForwardsNDJSON(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := New(ln.Addr().String(), quietLogger())
	go c.Run(ctx)

	conn, err := ln.Accept()
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	c.SendDeviceEvent(DeviceInfo{DeviceID: "TucsonL", RemoteIP: "10.0.0.7", State: DeviceStateConnect})
	c.SendFix(track.Fix{
		DeviceID:  "TucsonL",
		Lat:       24.2,
		Lng:       120.6,
		Speed:     track.Float64(30),
		Heading:   track.Float64(45),
		Timestamp: time.Date(2025, time.March, 14, 8, 0, 0, 0, time.UTC),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	r := bufio.NewScanner(conn)

	require.True(t, r.Scan())
	assert.JSONEq(t, `{"device_connect":true,"device_id":"TucsonL","remote_ip":"10.0.0.7"}`, r.Text())

	require.True(t, r.Scan())
	var got struct {
		Tracking struct {
			DeviceID string  `json:"device_id"`
			Speed    float64 `json:"speed"`
			Directed bool    `json:"directed"`
		} `json:"tracking"`
	}
	require.NoError(t, json.Unmarshal(r.Bytes(), &got))
	assert.Equal(t, "TucsonL", got.Tracking.DeviceID)
	assert.Equal(t, 30.0, got.Tracking.Speed)
	assert.True(t, got.Tracking.Directed)

	cancel()
	require.Eventually(t, func() bool { return !c.Connected() }, 2*time.Second, 5*time.Millisecond)
}

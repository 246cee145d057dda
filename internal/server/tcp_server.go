package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"track-svr/internal/ingest"
	"track-svr/internal/link"
	"track-svr/internal/observability"
	"track-svr/internal/utilities"
)

// HandshakeAck is written back once the device id line is accepted.
const HandshakeAck = 0x01

const (
	defaultIdleTimeout = 5 * time.Minute
	maxLineLength      = 1024
)

// TcpServer accepts NMEA trackers. The first line of a connection is the
// device id; every following line is an NMEA 0183 sentence.
type TcpServer struct {
	writer *ingest.Writer
	link   *link.Client
	raw    *utilities.RawLog
	logger *slog.Logger
	idle   time.Duration

	mu                sync.Mutex
	activeConnections map[string]net.Conn
}

func New(w *ingest.Writer, lk *link.Client, raw *utilities.RawLog, logger *slog.Logger) *TcpServer {
	return &TcpServer{
		writer:            w,
		link:              lk,
		raw:               raw,
		logger:            logger.With("component", "tcp"),
		idle:              defaultIdleTimeout,
		activeConnections: make(map[string]net.Conn),
	}
}

// Start listens on addr and serves until ctx is done.
func (srv *TcpServer) Start(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error starting TCP server: %w", err)
	}
	return srv.Serve(ctx, listener)
}

// Serve runs the accept loop on l. It closes l when ctx is done.
func (srv *TcpServer) Serve(ctx context.Context, listener net.Listener) error {
	srv.logger.Info("TCP server listening", "addr", listener.Addr().String())

	var wg sync.WaitGroup
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				wg.Wait()
				return nil
			}
			srv.logger.Error("accept error", "err", err)
			continue
		}
		observability.TCPConnections.Inc()

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			srv.HandleConnection(ctx, c)
		}(conn)
	}
}

// Connected lists the device ids with an open connection.
func (srv *TcpServer) Connected() []string {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]string, 0, len(srv.activeConnections))
	for id := range srv.activeConnections {
		out = append(out, id)
	}
	return out
}

func (srv *TcpServer) register(id string, conn net.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if old, ok := srv.activeConnections[id]; ok && old != conn {
		// a reconnecting tracker replaces its stale socket
		_ = old.Close()
	}
	srv.activeConnections[id] = conn
}

func (srv *TcpServer) unregister(id string, conn net.Conn) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.activeConnections[id] == conn {
		delete(srv.activeConnections, id)
	}
}

func (srv *TcpServer) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetKeepAlive(true)
		_ = tcpConn.SetKeepAlivePeriod(60 * time.Second)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, maxLineLength), maxLineLength)

	_ = conn.SetReadDeadline(time.Now().Add(srv.idle))
	if !scanner.Scan() {
		return
	}
	deviceID := strings.TrimSpace(scanner.Text())
	if !validDeviceID(deviceID) {
		srv.logger.Warn("handshake rejected", "remote", conn.RemoteAddr().String(), "line", deviceID)
		return
	}

	srv.register(deviceID, conn)
	observability.HandshakeOK.Inc()
	srv.logger.Info("device connected", "device", deviceID, "remote", conn.RemoteAddr().String())
	if _, err := conn.Write([]byte{HandshakeAck}); err != nil {
		srv.unregister(deviceID, conn)
		return
	}

	info := deviceInfo(deviceID, conn)
	info.State = link.DeviceStateConnect
	srv.link.SendDeviceEvent(info)
	defer func() {
		srv.unregister(deviceID, conn)
		info.State = link.DeviceStateDisconnect
		srv.link.SendDeviceEvent(info)
		srv.logger.Info("device disconnected", "device", deviceID)
	}()

	decoder := ingest.NewNMEADecoder(deviceID)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(srv.idle))
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if err := srv.raw.CreateLog("TCP", deviceID+" "+line); err != nil {
			srv.logger.Warn("raw log failed", "err", err)
		}

		f, err := decoder.Decode(line)
		if err != nil {
			observability.ParseErrors.WithLabelValues("tcp").Inc()
			srv.logger.Debug("nmea decode failed", "device", deviceID, "err", err)
			continue
		}
		if f == nil {
			continue
		}
		if _, err := srv.writer.Write(ctx, "tcp", *f); err != nil {
			srv.logger.Error("write fix failed", "device", deviceID, "err", err)
		}
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			srv.logger.Info("idle connection closed", "device", deviceID)
			return
		}
		srv.logger.Warn("read error", "device", deviceID, "err", err)
	}
}

// validDeviceID accepts a printable token that is not itself a sentence.
func validDeviceID(id string) bool {
	if id == "" || len(id) > 64 || strings.HasPrefix(id, "$") {
		return false
	}
	for _, r := range id {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}

func deviceInfo(id string, conn net.Conn) link.DeviceInfo {
	info := link.DeviceInfo{DeviceID: id}
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		info.RemoteIP = addr.IP.String()
		info.RemotePort = addr.Port
	}
	return info
}

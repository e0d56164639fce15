package net

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/l1jgo/wield/internal/net/packet"
	"go.uber.org/zap"
)

// Session represents a single client connection. Network I/O runs in
// dedicated goroutines; game state is accessed only from the game loop.
type Session struct {
	ID   uint64
	conn net.Conn

	state atomic.Int32 // packet.SessionState stored as int32
	mu    sync.Mutex   // protects conn writes during init

	InQueue  chan []byte // game loop reads packets from here
	OutQueue chan []byte // writer goroutine reads from here

	IP          string
	AccountName string
	CharName    string

	outBuf [][]byte // buffered packets, flushed by OutputSystem (game loop only)

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	readTimeout  time.Duration
	writeTimeout time.Duration

	// Per-second packet rate limiter (readLoop goroutine only, no lock needed)
	pktPerSec  int   // max packets/sec (0 = unlimited)
	pktCount   int   // packets received this second
	pktResetAt int64 // unix second of last counter reset

	log *zap.Logger
}

// SessionOptions sizes a session's queues and limits.
type SessionOptions struct {
	InQueueSize  int
	OutQueueSize int
	PktPerSec    int
	ReadTimeout  time.Duration // 0 = no deadline
	WriteTimeout time.Duration
}

func NewSession(conn net.Conn, id uint64, opts SessionOptions, log *zap.Logger) *Session {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	s := &Session{
		ID:           id,
		conn:         conn,
		InQueue:      make(chan []byte, opts.InQueueSize),
		OutQueue:     make(chan []byte, opts.OutQueueSize),
		IP:           conn.RemoteAddr().String(),
		closeCh:      make(chan struct{}),
		readTimeout:  opts.ReadTimeout,
		writeTimeout: opts.WriteTimeout,
		pktPerSec:    opts.PktPerSec,
		log:          log.With(zap.Uint64("session", id)),
	}
	s.state.Store(int32(packet.StateHandshake))
	return s
}

func (s *Session) State() packet.SessionState {
	return packet.SessionState(s.state.Load())
}

func (s *Session) SetState(st packet.SessionState) {
	s.state.Store(int32(st))
}

// Start writes the hello packet directly and launches the reader and
// writer goroutines.
func (s *Session) Start(hello []byte) {
	if len(hello) > 0 {
		s.mu.Lock()
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		err := WriteFrame(s.conn, hello)
		s.mu.Unlock()
		if err != nil {
			s.log.Error("初始封包發送失敗", zap.Error(err))
			s.Close()
			return
		}
	}

	go s.readLoop()
	go s.writeLoop()
}

// Send buffers a packet for sending. The packet is not written to TCP until
// FlushOutput is called by OutputSystem.
// Called only from the game loop goroutine, no lock needed on outBuf.
func (s *Session) Send(data []byte) {
	if s.closed.Load() {
		return
	}
	s.outBuf = append(s.outBuf, data)
}

// Pending returns the number of buffered, unflushed packets.
func (s *Session) Pending() int { return len(s.outBuf) }

// FlushOutput drains the output buffer to OutQueue for the writeLoop goroutine.
// Non-blocking: if OutQueue is full, the session is disconnected (backpressure).
func (s *Session) FlushOutput() {
	for _, data := range s.outBuf {
		select {
		case s.OutQueue <- data:
		default:
			s.log.Warn("輸出佇列已滿，斷開慢速連線")
			s.Close()
			s.outBuf = s.outBuf[:0]
			return
		}
	}
	s.outBuf = s.outBuf[:0]
}

// Close gracefully shuts down the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.SetState(packet.StateDisconnecting)
		close(s.closeCh)
		s.conn.Close()
	})
}

func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// readLoop runs in its own goroutine. It reads frames from the TCP connection
// and pushes them onto InQueue for the game loop to consume.
func (s *Session) readLoop() {
	defer s.Close()

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		if s.readTimeout > 0 {
			s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		}
		payload, err := ReadFrame(s.conn)
		if err != nil {
			if !s.closed.Load() {
				s.log.Debug("讀取錯誤", zap.Error(err))
			}
			return
		}

		if s.pktPerSec > 0 {
			now := time.Now().Unix()
			if now != s.pktResetAt {
				s.pktCount = 0
				s.pktResetAt = now
			}
			s.pktCount++
			if s.pktCount > s.pktPerSec {
				s.log.Warn("封包速率超限，斷開連線", zap.Int("pps", s.pktCount))
				return
			}
		}

		// Block until InQueue has space or session closes. Dropping an
		// equip toggle would desync the client's slot state.
		select {
		case s.InQueue <- payload:
		case <-s.closeCh:
			return
		}
	}
}

// writeLoop runs in its own goroutine. It reads packets from OutQueue and
// writes them as framed data to the TCP connection.
func (s *Session) writeLoop() {
	defer s.Close()

	for {
		select {
		case data := <-s.OutQueue:
			if !s.writeOnePacket(data) {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// writeOnePacket 寫入單一封包到 TCP socket。成功回傳 true。
func (s *Session) writeOnePacket(data []byte) bool {
	if len(data) > 0 {
		s.log.Debug("TX",
			zap.String("op", fmt.Sprintf("0x%02X(%d)", data[0], data[0])),
			zap.Int("len", len(data)),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	if err := WriteFrame(s.conn, data); err != nil {
		if !s.closed.Load() {
			s.log.Debug("寫入錯誤", zap.Error(err))
		}
		return false
	}
	return true
}

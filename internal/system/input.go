package system

import (
	"time"

	coresys "github.com/l1jgo/wield/internal/core/system"
	"github.com/l1jgo/wield/internal/handler"
	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/packet"
	"go.uber.org/zap"
)

// SessionSource hands new sessions to the game loop and takes back the
// IDs of reaped ones. *net.Server implements it.
type SessionSource interface {
	NewSessions() <-chan *net.Session
	DeadSessions() <-chan uint64
	NotifyDead(sessionID uint64)
}

// InputSystem drains packet queues from all sessions and dispatches them
// through the packet registry. Phase 0 (Input).
type InputSystem struct {
	source     SessionSource
	registry   *packet.Registry
	store      *net.SessionStore
	maxPerTick int
	deps       *handler.Deps
	log        *zap.Logger
}

func NewInputSystem(
	source SessionSource,
	registry *packet.Registry,
	store *net.SessionStore,
	maxPerTick int,
	deps *handler.Deps,
	log *zap.Logger,
) *InputSystem {
	return &InputSystem{
		source:     source,
		registry:   registry,
		store:      store,
		maxPerTick: maxPerTick,
		deps:       deps,
		log:        log,
	}
}

func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) {
	// Accept new sessions
	for {
		select {
		case sess := <-s.source.NewSessions():
			s.store.Add(sess)
		default:
			goto doneNew
		}
	}
doneNew:

	for {
		select {
		case id := <-s.source.DeadSessions():
			s.store.Remove(id)
		default:
			goto doneDead
		}
	}
doneDead:

	for _, sess := range s.store.Sorted() {
		if sess.IsClosed() {
			// 斷線前的剩餘封包仍以最後狀態分派
			s.drain(sess)
			s.handleDisconnect(sess)
			continue
		}
		s.drain(sess)
	}

	// 提前 flush：讓 Phase 0 產生的封包立即進入 OutQueue
	s.store.ForEach(func(sess *net.Session) {
		sess.FlushOutput()
	})
}

func (s *InputSystem) drain(sess *net.Session) {
	for i := 0; i < s.maxPerTick; i++ {
		select {
		case data := <-sess.InQueue:
			if err := s.registry.Dispatch(sess, sess.State(), data); err != nil {
				s.log.Debug("封包分派錯誤",
					zap.Uint64("session", sess.ID),
					zap.Error(err),
				)
			}
		default:
			return
		}
	}
}

// handleDisconnect releases the session's avatar, saves it and marks the
// account offline.
func (s *InputSystem) handleDisconnect(sess *net.Session) {
	sess.FlushOutput()
	handler.LeaveWorld(sess, s.deps)
	s.store.Remove(sess.ID)
	s.source.NotifyDead(sess.ID)
}

// SessionCount returns the current number of active sessions.
func (s *InputSystem) SessionCount() int {
	return s.store.Count()
}

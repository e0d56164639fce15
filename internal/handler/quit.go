package handler

import (
	"fmt"

	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/packet"
)

// HandleQuit processes C_QUIT. It only closes the session; the input system
// runs LeaveWorld when it reaps the dead session.
func HandleQuit(sess *net.Session, _ *packet.Reader, deps *Deps) {
	deps.Log.Info(fmt.Sprintf("玩家登出  session=%d  帳號=%s", sess.ID, sess.AccountName))
	sess.Close()
}

// HandlePing processes C_PING: [D client time], echoed back in S_PONG.
func HandlePing(sess *net.Session, r *packet.Reader, _ *Deps) {
	t := r.ReadD()
	if r.Err() != nil {
		return
	}
	sess.Send(packet.NewWriter(packet.S_OPCODE_PONG).WriteD(t).Bytes())
}

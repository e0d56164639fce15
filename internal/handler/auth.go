package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/l1jgo/wield/internal/net"
	"github.com/l1jgo/wield/internal/net/packet"
	"github.com/l1jgo/wield/internal/persist"
	"go.uber.org/zap"
)

// HandleLogin processes C_LOGIN.
// Format: [opcode][S account][S password]
func HandleLogin(sess *net.Session, r *packet.Reader, deps *Deps) {
	accountName := strings.ToLower(r.ReadS())
	password := r.ReadS()
	ip := remoteHost(sess.IP)

	if r.Err() != nil || accountName == "" {
		sendLoginResult(sess, packet.LoginNoAccount)
		return
	}
	if deps.limiter != nil && !deps.limiter.allow(ip, time.Now()) {
		deps.Log.Warn(fmt.Sprintf("登入嘗試過於頻繁  ip=%s", ip))
		sendLoginResult(sess, packet.LoginServerError)
		sess.Close()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	account, err := deps.AccountRepo.Load(ctx, accountName)
	if err != nil {
		deps.Log.Error("載入帳號資料庫錯誤", zap.Error(err))
		sendLoginResult(sess, packet.LoginServerError)
		return
	}

	if account == nil {
		if !deps.Config.Account.AutoCreate {
			sendLoginResult(sess, packet.LoginNoAccount)
			return
		}
		account, err = deps.AccountRepo.Create(ctx, accountName, password, ip)
		if err != nil {
			deps.Log.Error("建立帳號資料庫錯誤", zap.Error(err))
			sendLoginResult(sess, packet.LoginServerError)
			return
		}
		deps.Log.Info(fmt.Sprintf("自動建立帳號  帳號=%s", accountName))
	} else if !persist.ValidatePassword(account.PasswordHash, password) {
		sendLoginResult(sess, packet.LoginBadPassword)
		return
	}

	if account.Banned {
		deps.Log.Info(fmt.Sprintf("被封鎖帳號嘗試登入  帳號=%s", accountName))
		sendLoginResult(sess, packet.LoginBanned)
		return
	}
	if account.Online {
		sendLoginResult(sess, packet.LoginInUse)
		return
	}

	if err := deps.AccountRepo.SetOnline(ctx, accountName, true); err != nil {
		deps.Log.Error("設定上線狀態資料庫錯誤", zap.Error(err))
	}
	if err := deps.AccountRepo.UpdateLastActive(ctx, accountName, ip); err != nil {
		deps.Log.Error("更新最後活動時間資料庫錯誤", zap.Error(err))
	}

	sess.AccountName = accountName
	sendLoginResult(sess, packet.LoginOK)
	sess.SetState(packet.StateAuthenticated)

	chars, err := deps.CharRepo.LoadByAccount(ctx, accountName)
	if err != nil {
		deps.Log.Error("載入角色列表資料庫錯誤", zap.Error(err))
	}
	sess.Send(charListPacket(chars))

	deps.Log.Info(fmt.Sprintf("登入成功  帳號=%s  ip=%s  角色數=%d", accountName, ip, len(chars)))
}

// sendLoginResult sends S_LOGINRESULT: [C result]
func sendLoginResult(sess *net.Session, result byte) {
	sess.Send(packet.NewWriter(packet.S_OPCODE_LOGINRESULT).WriteC(result).Bytes())
}

func remoteHost(addr string) string {
	if i := strings.LastIndexByte(addr, ':'); i > 0 {
		return strings.Trim(addr[:i], "[]")
	}
	return addr
}

// loginLimiter caps login attempts per IP in a sliding one-minute window.
// Game loop only.
type loginLimiter struct {
	max      int
	attempts map[string][]time.Time
}

func newLoginLimiter(perMinute int) *loginLimiter {
	return &loginLimiter{max: perMinute, attempts: make(map[string][]time.Time)}
}

func (l *loginLimiter) allow(ip string, now time.Time) bool {
	cutoff := now.Add(-time.Minute)
	recent := l.attempts[ip][:0]
	for _, t := range l.attempts[ip] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= l.max {
		l.attempts[ip] = recent
		return false
	}
	l.attempts[ip] = append(recent, now)
	return true
}

package auth

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/session"
	"github.com/lk2023060901/hermes-chat-go/pkg/log"
	"github.com/lk2023060901/hermes-chat-go/pkg/metrics"
	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

// 握手阶段对客户端可见的全部文本。
const (
	promptUsername = "Enter username: "
	promptPassword = "Enter password: "

	// 用户名未知与口令错误使用同一段拒绝文案，不向客户端泄露
	// 二者的区别。
	msgInvalidCredential = "Invalid username or password."
	msgAlreadyLoggedIn   = "This username is already logged in."
	msgWelcome           = "Welcome to the chat server!"
)

const defaultHandshakeTimeout = 30 * time.Second

// Authenticator 执行新连接的两段式认证握手：
// 先提示输入用户名，立即完成存在性检查与乐观的重复登录检查，
// 再索取口令并校验凭据，最后在与重复登录复查同一个临界区内
// 完成用户名绑定。
type Authenticator struct {
	dir     *session.Directory
	store   *Store
	timeout time.Duration
}

// NewAuthenticator 创建认证器。timeout<=0 时使用默认握手超时。
func NewAuthenticator(dir *session.Directory, store *Store, timeout time.Duration) *Authenticator {
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	return &Authenticator{
		dir:     dir,
		store:   store,
		timeout: timeout,
	}
}

// Authenticate 对会话执行认证握手。
//
// 成功时用户名已绑定、欢迎语已送达，返回绑定的用户名；
// 失败时返回错误，调用方负责走统一清理（不发送离线公告）。
// 每次读都带独立的握手超时；握手结束后恢复为阻塞读。
func (a *Authenticator) Authenticate(sess *session.Session) (string, error) {
	metrics.AuthAttempts.Inc()

	defer func() {
		// 握手后的正常读不再受截止时间约束。
		_ = sess.SetReadDeadline(time.Time{})
	}()

	username, err := a.readInput(sess, promptUsername, "username")
	if err != nil {
		return "", err
	}
	if username == "" {
		a.reject(sess, msgInvalidCredential, metrics.AuthFailureBadInput)
		return "", merr.WrapErrAuthBadInput("username")
	}

	// 未知用户名在索取口令前即被拒绝，文案与口令错误一致。
	if !a.store.Exists(username) {
		a.reject(sess, msgInvalidCredential, metrics.AuthFailureCredential)
		return "", merr.WrapErrAuthUnknownUser(username)
	}

	// 乐观的重复登录检查：确定在线的同名用户直接拒绝，不再索取
	// 口令；陈旧会话就地摘除。最终判定在 Bind 的临界区内复查。
	stale, err := a.dir.ProbeDuplicate(username)
	if err != nil {
		a.reject(sess, msgAlreadyLoggedIn, metrics.AuthFailureDuplicate)
		return "", err
	}
	a.closeStale(stale, username)

	secret, err := a.readInput(sess, promptPassword, "password")
	if err != nil {
		return "", err
	}

	if err := a.store.Verify(username, secret); err != nil {
		a.reject(sess, msgInvalidCredential, metrics.AuthFailureCredential)
		return "", err
	}

	result, err := a.dir.Bind(sess, username)
	if err != nil {
		a.reject(sess, msgAlreadyLoggedIn, metrics.AuthFailureDuplicate)
		return "", err
	}
	a.closeStale(result.Stale, username)

	if err := sess.WriteLine(msgWelcome); err != nil {
		// 登记已完成但欢迎语送达失败，由调用方回滚摘除，
		// 不允许目录中残留从未被公告过的会话。
		metrics.AuthFailures.WithLabelValues(metrics.AuthFailureSendError).Inc()
		return "", merr.WrapErrSendFailed(username, err.Error())
	}

	metrics.OnlineSessions.Set(float64(a.dir.OnlineCount()))
	log.Info("user authenticated",
		log.FieldSession(sess.ID()),
		log.FieldUser(username),
		log.FieldRemoteAddr(sess.RemoteAddr().String()))
	return username, nil
}

// closeStale 关闭重复登录检查中被目录摘除的陈旧会话。
// stale 为 nil 时为空操作。
func (a *Authenticator) closeStale(stale *session.Session, username string) {
	if stale == nil {
		return
	}
	metrics.SessionDisconnects.WithLabelValues(metrics.DisconnectReasonStale).Inc()
	log.Info("evicted stale session on re-login",
		log.FieldSession(stale.ID()),
		log.FieldUser(username))
	_ = stale.Close()
}

// readInput 发送提示符并读取一行输入，单次读受握手超时约束。
func (a *Authenticator) readInput(sess *session.Session, prompt string, stage string) (string, error) {
	if err := sess.WriteRaw(prompt); err != nil {
		metrics.AuthFailures.WithLabelValues(metrics.AuthFailureSendError).Inc()
		return "", merr.WrapErrSendFailed("", err.Error())
	}

	if err := sess.SetReadDeadline(time.Now().Add(a.timeout)); err != nil {
		return "", err
	}
	line, err := sess.ReadLine()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			metrics.AuthFailures.WithLabelValues(metrics.AuthFailureTimeout).Inc()
			return "", merr.WrapErrAuthTimeout(stage)
		}
		metrics.AuthFailures.WithLabelValues(metrics.AuthFailureBadInput).Inc()
		return "", err
	}
	return line, nil
}

// reject 向客户端发送拒绝文案并上报失败指标。
// 拒绝文案本身发送失败时仅记录日志，连接随后由调用方关闭。
func (a *Authenticator) reject(sess *session.Session, text string, reason string) {
	metrics.AuthFailures.WithLabelValues(reason).Inc()
	if err := sess.WriteLine(text); err != nil {
		log.Warn("failed to deliver auth rejection",
			log.FieldSession(sess.ID()),
			zap.Error(err))
	}
}

package bus

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/session"
	"github.com/lk2023060901/hermes-chat-go/pkg/log"
	"github.com/lk2023060901/hermes-chat-go/pkg/metrics"
	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

// MessageBus 负责会话间的消息投递：私聊、全员广播、服务端公告，
// 以及所有断开路径共用的统一清理入口。
//
// 约定：
//   - 所有扇出都作用于 Directory 在临界区内生成的快照，网络写
//     不持有全局锁；
//   - 任何一次写失败都视为目标会话失效：先完成本轮扇出，再对
//     失败会话逐个走统一清理，绝不在遍历中途摘除成员；
//   - Teardown 可从任意路径（/exit、读失败、写失败、心跳超时、
//     停服）重入，幂等。
type MessageBus struct {
	dir *session.Directory
}

// NewMessageBus 创建消息总线。
func NewMessageBus(dir *session.Directory) *MessageBus {
	return &MessageBus{dir: dir}
}

// SendTo 向单个会话同步写出一行文本。
// 写失败时记录日志并返回 false，是否触发清理由调用方决定。
func (b *MessageBus) SendTo(sess *session.Session, text string) bool {
	if err := sess.WriteLine(text); err != nil {
		log.Warn("write to session failed",
			log.FieldSession(sess.ID()),
			log.FieldUser(sess.Username()),
			zap.Error(err))
		return false
	}
	return true
}

// Private 处理一条私聊消息。
//
// 行为：
//   - 目标在线：向目标投递 "[sender]: msg"，失败时回告发送方，
//     对目标会话走统一清理并返回 ErrSendFailed；
//   - 目标不在线：回告发送方 "User X not found online" 并返回
//     ErrUserNotFound。
//
// 两类失败都已就地回告发送方，返回的错误仅供调用方记录。
func (b *MessageBus) Private(sender *session.Session, target string, text string) error {
	receiver, ok := b.dir.LookupByName(target)
	if !ok {
		b.SendTo(sender, fmt.Sprintf("User %s not found online", target))
		return merr.WrapErrUserNotFound(target)
	}

	payload := fmt.Sprintf("[%s]: %s", sender.Username(), text)
	if err := receiver.WriteLine(payload); err != nil {
		metrics.MessageSendFailures.WithLabelValues(metrics.MessageTypePrivate).Inc()
		b.SendTo(sender, fmt.Sprintf("Message cannot be sent to user %s: %v", target, err))
		b.Teardown(receiver, metrics.DisconnectReasonSendError, true)
		return merr.WrapErrSendFailed(target, err.Error())
	}
	metrics.MessagesRouted.WithLabelValues(metrics.MessageTypePrivate).Inc()
	return nil
}

// Broadcast 处理一条全员广播。
//
// 消息以 "[Broadcast][sender]: msg" 投递给包括发送方在内的全部
// 在线会话，发送方额外先收到一行成功确认。
func (b *MessageBus) Broadcast(sender *session.Session, text string) {
	payload := fmt.Sprintf("[Broadcast][%s]: %s", sender.Username(), text)

	b.SendTo(sender, "Message broadcast successful")

	var failed []*session.Session
	for _, sess := range b.dir.Snapshot() {
		if err := sess.WriteLine(payload); err != nil {
			metrics.MessageSendFailures.WithLabelValues(metrics.MessageTypeBroadcast).Inc()
			failed = append(failed, sess)
			continue
		}
		metrics.MessagesRouted.WithLabelValues(metrics.MessageTypeBroadcast).Inc()
	}
	b.teardownAll(failed, metrics.DisconnectReasonSendError)
}

// Announce 以服务端名义向全部在线会话投递一行公告，exclude 中的
// 会话被跳过。写失败的会话在扇出结束后统一清理。
func (b *MessageBus) Announce(text string, exclude ...*session.Session) {
	skip := make(map[uint64]struct{}, len(exclude))
	for _, sess := range exclude {
		skip[sess.ID()] = struct{}{}
	}

	var failed []*session.Session
	for _, sess := range b.dir.Snapshot() {
		if _, ok := skip[sess.ID()]; ok {
			continue
		}
		if err := sess.WriteLine(text); err != nil {
			metrics.MessageSendFailures.WithLabelValues(metrics.MessageTypeSystem).Inc()
			failed = append(failed, sess)
			continue
		}
		metrics.MessagesRouted.WithLabelValues(metrics.MessageTypeSystem).Inc()
	}
	b.teardownAll(failed, metrics.DisconnectReasonSendError)
}

// FanOut 向一组会话快照投递同一行文本（群聊扇出）。
// 返回写失败的会话，由调用方在遍历结束后统一清理。
func (b *MessageBus) FanOut(targets []*session.Session, text string, messageType string) []*session.Session {
	var failed []*session.Session
	for _, sess := range targets {
		if err := sess.WriteLine(text); err != nil {
			metrics.MessageSendFailures.WithLabelValues(messageType).Inc()
			failed = append(failed, sess)
			continue
		}
		metrics.MessagesRouted.WithLabelValues(messageType).Inc()
	}
	return failed
}

// ListUsers 向请求方回送当前在线用户名列表。
func (b *MessageBus) ListUsers(requester *session.Session) {
	names := b.dir.Usernames()
	b.SendTo(requester, "Online users:\n"+strings.Join(names, "\n"))
}

// Teardown 是所有断开路径共用的统一清理入口。
//
// 流程：
//  1. Directory.Disconnect 在一个临界区内摘除会话表、用户名索引、
//     心跳与全部群组成员关系；
//  2. 基于返回的快照在锁外发送离组通知与离线公告（announce 为
//     true 且会话已完成认证时）；
//  3. 关闭底层连接。
//
// 对同一会话重复调用时，第一次之后的调用仅重复关闭连接（幂等），
// 不会产生重复公告。返回本次调用是否真正执行了摘除。
func (b *MessageBus) Teardown(sess *session.Session, reason string, announce bool) bool {
	result := b.dir.Disconnect(sess.ID())
	if !result.Performed {
		_ = sess.Close()
		return false
	}

	metrics.SessionDisconnects.WithLabelValues(reason).Inc()
	metrics.OnlineSessions.Set(float64(b.dir.OnlineCount()))
	metrics.ActiveGroups.Set(float64(b.dir.GroupCount()))

	log.Info("session disconnected",
		log.FieldSession(sess.ID()),
		log.FieldUser(result.Username),
		log.FieldRemoteAddr(sess.RemoteAddr().String()),
		zap.String("reason", reason))

	if announce && result.Username != "" {
		for _, removal := range result.Groups {
			b.notifyGroupRemoval(result.Username, removal)
		}
		b.Announce(fmt.Sprintf("%s has left the chat.", result.Username), sess)
	}

	_ = sess.Close()
	return true
}

// notifyGroupRemoval 向群组剩余成员发送离组通知；成员离开导致群组
// 删除时无人可通知。
func (b *MessageBus) notifyGroupRemoval(username string, removal session.GroupRemoval) {
	if removal.Deleted {
		return
	}
	notice := fmt.Sprintf("[Group %s]: %s has left the group.", removal.Group, username)
	failed := b.FanOut(removal.Remaining, notice, metrics.MessageTypeGroup)
	b.teardownAll(failed, metrics.DisconnectReasonSendError)
}

func (b *MessageBus) teardownAll(failed []*session.Session, reason string) {
	for _, sess := range failed {
		b.Teardown(sess, reason, true)
	}
}

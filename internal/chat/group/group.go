package group

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/bus"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/session"
	"github.com/lk2023060901/hermes-chat-go/pkg/metrics"
	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

// Service 实现群组相关的全部用户操作：建群、入群、退群、群聊与
// 群组清单。
//
// 成员关系的归属方是 session.Directory：本服务只负责校验输入、
// 调用目录的原子操作、格式化用户可见文本并完成锁外扇出。
type Service struct {
	dir *session.Directory
	bus *bus.MessageBus
}

// NewService 创建群组服务。
func NewService(dir *session.Directory, b *bus.MessageBus) *Service {
	return &Service{dir: dir, bus: b}
}

// Create 创建新群组，创建者自动入群，并向其余在线用户公告。
func (s *Service) Create(sess *session.Session, name string) {
	others, err := s.dir.CreateGroup(sess.ID(), name)
	if err != nil {
		if errors.Is(err, merr.ErrGroupAlreadyExists) {
			s.bus.SendTo(sess, fmt.Sprintf("Alert : Group '%s' already exists.", name))
			return
		}
		s.bus.SendTo(sess, fmt.Sprintf("Group %s cannot be created: %v", name, err))
		return
	}

	metrics.ActiveGroups.Set(float64(s.dir.GroupCount()))
	s.bus.SendTo(sess, fmt.Sprintf("Group %s created.", name))

	notice := fmt.Sprintf("New group '%s' has been created by %s", name, sess.Username())
	s.teardownFailed(s.bus.FanOut(others, notice, metrics.MessageTypeSystem))
}

// Join 将用户加入已有群组，并通知原有成员。
func (s *Service) Join(sess *session.Session, name string) {
	existing, err := s.dir.JoinGroup(sess.ID(), name)
	if err != nil {
		switch {
		case errors.Is(err, merr.ErrGroupNotFound):
			s.bus.SendTo(sess, fmt.Sprintf("Alert: Group '%s' does not exist.", name))
		case errors.Is(err, merr.ErrGroupAlreadyMember):
			s.bus.SendTo(sess, fmt.Sprintf("Alert: You are already a member of group '%s'.", name))
		default:
			s.bus.SendTo(sess, fmt.Sprintf("Group %s cannot be joined: %v", name, err))
		}
		return
	}

	s.bus.SendTo(sess, fmt.Sprintf("You joined the group %s.", name))

	notice := fmt.Sprintf("[Group %s]: %s has joined the group.", name, sess.Username())
	s.teardownFailed(s.bus.FanOut(existing, notice, metrics.MessageTypeGroup))
}

// Leave 处理主动退组：先向本人确认退组，再通知剩余成员；
// 最后一名成员退出时删除群组，告知本人并向其余在线用户公告。
func (s *Service) Leave(sess *session.Session, name string) {
	result, err := s.dir.LeaveGroup(sess.ID(), name)
	if err != nil {
		s.bus.SendTo(sess, fmt.Sprintf("You are not a member of group %s.", name))
		return
	}

	s.bus.SendTo(sess, fmt.Sprintf("You left the group %s.", name))

	if result.Deleted {
		metrics.ActiveGroups.Set(float64(s.dir.GroupCount()))
		s.bus.SendTo(sess, fmt.Sprintf("Group %s has been deleted as you were the last remaining member.", name))
		s.bus.Announce(fmt.Sprintf("Group '%s' has been deleted as it has no members.", name), sess)
		return
	}

	notice := fmt.Sprintf("[Group %s]: %s has left the group.", name, sess.Username())
	s.teardownFailed(s.bus.FanOut(result.Remaining, notice, metrics.MessageTypeGroup))
}

// Message 向群组全体成员（含发送方本人）投递一条群聊消息。
// 发送方必须是群组成员。
func (s *Service) Message(sess *session.Session, name string, text string) {
	members, err := s.dir.GroupMembers(sess.ID(), name)
	if err != nil {
		s.bus.SendTo(sess, fmt.Sprintf("Error: You are not a member of group '%s'.", name))
		return
	}

	payload := fmt.Sprintf("[Group %s][%s]: %s", name, sess.Username(), text)
	s.teardownFailed(s.bus.FanOut(members, payload, metrics.MessageTypeGroup))
}

// ListAll 向请求方回送全部群组及各自成员的清单。
func (s *Service) ListAll(sess *session.Session) {
	infos := s.dir.GroupsSnapshot()
	if len(infos) == 0 {
		s.bus.SendTo(sess, "No groups exist.")
		return
	}

	var sb strings.Builder
	sb.WriteString("Groups and their members:\n")
	for _, info := range infos {
		fmt.Fprintf(&sb, "\nGroup '%s':\n", info.Name)
		for _, member := range info.Members {
			fmt.Fprintf(&sb, "- %s\n", member)
		}
	}
	s.bus.SendTo(sess, sb.String())
}

// teardownFailed 对扇出中写失败的成员逐个走统一清理。
// 摘除发生在扇出遍历之后，不会在迭代成员集时改动它。
func (s *Service) teardownFailed(failed []*session.Session) {
	for _, sess := range failed {
		s.bus.Teardown(sess, metrics.DisconnectReasonSendError, true)
	}
}

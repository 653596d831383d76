package command

import (
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/bus"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/group"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/session"
	"github.com/lk2023060901/hermes-chat-go/pkg/log"
	"github.com/lk2023060901/hermes-chat-go/pkg/metrics"
	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

// 未知命令时回送的帮助文本。
const helpMessage = `
Available commands:
/msg <username> <message> - Send private message to user
/broadcast <message> - Broadcast message to all users
/create_group <group_name> - Create a new group
/join_group <group_name> - Join an existing group
/group_msg <group_name> <message> - Send message to group
/leave_group <group_name> - Leave a group
/users - List all online users
/groups_users - List all groups and their members
/exit - Disconnect from server
`

// handler 为单条命令的描述：参数约束 + 执行逻辑。
// run 返回的错误已向发送方回告过，仅用于日志。
type handler struct {
	usage string
	// minArgs 为最少参数个数；exactArgs 为 true 时要求恰好 minArgs 个。
	minArgs   int
	exactArgs bool
	run       func(sess *session.Session, args []string) error
}

// Router 将客户端输入的命令行分发到对应的处理器。
//
// 说明：
//   - 命令 token 不区分大小写，参数按任意空白切分；
//   - 参数个数不满足约束时回送该命令的用法提示；
//   - 未知命令回送完整的帮助文本；
//   - 消息正文由参数用单个空格重组（连续空白被折叠）。
type Router struct {
	bus      *bus.MessageBus
	handlers map[string]handler
}

// NewRouter 创建命令路由器。
func NewRouter(b *bus.MessageBus, groups *group.Service) *Router {
	r := &Router{bus: b}
	r.handlers = map[string]handler{
		"/msg": {
			usage:   "Usage: /msg <username> <message>",
			minArgs: 2,
			run: func(sess *session.Session, args []string) error {
				return b.Private(sess, args[0], strings.Join(args[1:], " "))
			},
		},
		"/broadcast": {
			usage:   "Usage: /broadcast <message>",
			minArgs: 1,
			run: func(sess *session.Session, args []string) error {
				b.Broadcast(sess, strings.Join(args, " "))
				return nil
			},
		},
		"/create_group": {
			usage:     "Usage: /create_group <group_name>",
			minArgs:   1,
			exactArgs: true,
			run: func(sess *session.Session, args []string) error {
				groups.Create(sess, args[0])
				return nil
			},
		},
		"/join_group": {
			usage:     "Usage: /join_group <group_name>",
			minArgs:   1,
			exactArgs: true,
			run: func(sess *session.Session, args []string) error {
				groups.Join(sess, args[0])
				return nil
			},
		},
		"/group_msg": {
			usage:   "Usage: /group_msg <group_name> <message>",
			minArgs: 2,
			run: func(sess *session.Session, args []string) error {
				groups.Message(sess, args[0], strings.Join(args[1:], " "))
				return nil
			},
		},
		"/leave_group": {
			usage:     "Usage: /leave_group <group_name>",
			minArgs:   1,
			exactArgs: true,
			run: func(sess *session.Session, args []string) error {
				groups.Leave(sess, args[0])
				return nil
			},
		},
		"/users": {
			run: func(sess *session.Session, args []string) error {
				b.ListUsers(sess)
				return nil
			},
		},
		"/groups_users": {
			run: func(sess *session.Session, args []string) error {
				groups.ListAll(sess)
				return nil
			},
		},
	}
	return r
}

// Route 处理一行客户端输入。
//
// 返回 true 表示会话已通过 /exit 主动结束，调用方应停止命令循环。
// 空白行为空操作。
func (r *Router) Route(sess *session.Session, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}

	token := strings.ToLower(parts[0])
	args := parts[1:]

	if token == "/exit" {
		metrics.CommandsProcessed.WithLabelValues(token).Inc()
		log.Debug("user requested exit",
			log.FieldSession(sess.ID()),
			log.FieldUser(sess.Username()))
		r.bus.Teardown(sess, metrics.DisconnectReasonExit, true)
		return true
	}

	h, ok := r.handlers[token]
	if !ok {
		metrics.CommandsProcessed.WithLabelValues("unknown").Inc()
		log.Debug("rejecting unknown command",
			log.FieldSession(sess.ID()),
			log.FieldUser(sess.Username()),
			zap.Error(merr.WrapErrCommandUnknown(token)))
		r.bus.SendTo(sess, helpMessage)
		return false
	}

	metrics.CommandsProcessed.WithLabelValues(token).Inc()
	log.Debug("executing command",
		log.FieldSession(sess.ID()),
		log.FieldUser(sess.Username()),
		log.FieldComponent(token))

	if len(args) < h.minArgs || (h.exactArgs && len(args) != h.minArgs) {
		log.Debug("rejecting command with bad arity",
			log.FieldSession(sess.ID()),
			log.FieldUser(sess.Username()),
			zap.Error(merr.WrapErrCommandUsage(token, h.usage)))
		r.bus.SendTo(sess, h.usage)
		return false
	}

	if err := h.run(sess, args); err != nil {
		log.Debug("command completed with error",
			log.FieldSession(sess.ID()),
			log.FieldUser(sess.Username()),
			log.FieldComponent(token),
			zap.Error(err))
	}
	return false
}

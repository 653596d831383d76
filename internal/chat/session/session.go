package session

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

// Session 抽象了一条客户端会话/连接。
//
// 约定：
//   - 每个 Session 对应一条底层 TCP 连接；
//   - Session ID 使用 64 位无符号整型，在进程内保持全局唯一；
//   - 用户名在认证完成前为空，由 Directory 在持锁状态下绑定；
//   - 出站写为同步写：同一连接上的并发写通过内部互斥串行化，
//     写失败即视为该会话失效，由调用方触发统一清理。
type Session struct {
	id uint64

	ctx    context.Context
	cancel context.CancelFunc

	conn   net.Conn
	reader *bufio.Reader

	remoteAddr net.Addr

	// username 仅由 Directory 在持全局锁时写入；
	// 读取方（日志、消息格式化）可无锁访问。
	username atomic.String

	// inbound 为该会话的有界入站行队列。
	// 接收协程为唯一写入方，并在退出时负责 close；
	// 命令循环为唯一消费方，通过通道关闭感知会话结束。
	inbound chan string

	// writeMu 串行化对 conn 的所有写操作，避免报文交叉。
	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
}

// New 创建一个基于 net.Conn 的会话实例。
//
// 参数：
//   - parent   ：会话所属的上层上下文（例如 Server 的 Serve ctx）；若为 nil，则使用 context.Background()；
//   - id       ：会话 ID，由调用侧保证全局唯一；
//   - conn     ：底层网络连接；
//   - queueSize：入站行队列容量，<=0 时使用默认值。
func New(parent context.Context, id uint64, conn net.Conn, queueSize int) *Session {
	if parent == nil {
		parent = context.Background()
	}
	if queueSize <= 0 {
		queueSize = defaultInboundQueueSize
	}
	ctx, cancel := context.WithCancel(parent)

	return &Session{
		id:         id,
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		reader:     bufio.NewReader(conn),
		remoteAddr: conn.RemoteAddr(),
		inbound:    make(chan string, queueSize),
	}
}

const defaultInboundQueueSize = 256

// ID 返回该会话在进程内的全局唯一标识。
func (s *Session) ID() uint64 {
	return s.id
}

// Context 返回与该会话关联的上下文。
// 会话关闭时会触发 Context.Done()。
func (s *Session) Context() context.Context {
	return s.ctx
}

// RemoteAddr 返回远端地址（客户端地址）。
func (s *Session) RemoteAddr() net.Addr {
	return s.remoteAddr
}

// Username 返回已绑定的用户名；认证完成前为空字符串。
func (s *Session) Username() string {
	return s.username.Load()
}

// SetUsername 绑定用户名。仅应由 Directory 在持全局锁时调用。
func (s *Session) SetUsername(name string) {
	s.username.Store(name)
}

// Inbound 返回入站行队列的只读视图。
// 通道在接收协程退出时被关闭。
func (s *Session) Inbound() <-chan string {
	return s.inbound
}

// Enqueue 将一行输入投递到入站队列。
// 队列已满时阻塞，直至有空位或会话被关闭；
// 会话已关闭时返回 ErrSessionClosed。
func (s *Session) Enqueue(line string) error {
	if s.closed.Load() {
		return merr.WrapErrSessionClosed(s.id, "enqueue")
	}
	select {
	case <-s.ctx.Done():
		return merr.WrapErrSessionClosed(s.id, "enqueue")
	case s.inbound <- line:
		return nil
	}
}

// CloseInbound 关闭入站队列。仅应由接收协程在退出时调用一次。
func (s *Session) CloseInbound() {
	close(s.inbound)
}

// ReadLine 阻塞读取一行输入（以 '\n' 结尾），并去除首尾空白。
//
// 说明：
//   - 读超时由调用方通过 SetReadDeadline 控制；
//   - 对端关闭或读错误原样向上返回，由调用方决定清理动作。
func (s *Session) ReadLine() (string, error) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// SetReadDeadline 设置底层连接的读截止时间。
// 传入零值 time.Time 表示恢复为阻塞读。
func (s *Session) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// WriteLine 同步写出一行文本；若 text 不以 '\n' 结尾则自动补齐。
//
// 写失败表示该会话不再可达，调用方应触发统一清理；
// 此处不做重试。
func (s *Session) WriteLine(text string) error {
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	return s.write([]byte(text))
}

// WriteRaw 同步写出原始字节，不做任何补齐。
// 用于握手提示符等不带换行的输出。
func (s *Session) WriteRaw(text string) error {
	return s.write([]byte(text))
}

func (s *Session) write(p []byte) error {
	if s.closed.Load() {
		return merr.WrapErrSessionClosed(s.id, "write")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	written := 0
	for written < len(p) {
		n, err := s.conn.Write(p[written:])
		if err != nil {
			return err
		}
		if n <= 0 {
			return merr.WrapErrSendFailed(s.username.Load(), "short write")
		}
		written += n
	}
	return nil
}

// Probe 对底层连接执行一次空负载探测写，判断对端是否仍然可达。
//
// 说明：
//   - 用于重复登录检查中的陈旧连接识别；
//   - 本地已关闭的会话立即返回错误；
//   - 探测写带一个较短的写截止时间，避免在持锁路径上长时间阻塞。
func (s *Session) Probe() error {
	if s.closed.Load() {
		return merr.WrapErrSessionClosed(s.id, "probe")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(probeWriteTimeout))
	defer func() {
		_ = s.conn.SetWriteDeadline(time.Time{})
	}()

	if _, err := s.conn.Write(nil); err != nil {
		return merr.WrapErrSessionStale(s.username.Load(), err.Error())
	}
	return nil
}

const probeWriteTimeout = time.Second

// Close 主动关闭该会话。
//
// 多次调用是幂等的：对已关闭的会话再次调用 Close 不会引发 panic。
// 关闭底层连接会解除任何阻塞在该连接读上的协程。
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.cancel != nil {
			s.cancel()
		}
		if s.conn != nil {
			// 关闭错误直接吞掉语义上已无意义的残留状态，
			// 此时该连接已被视为不存在。
			err = s.conn.Close()
		}
	})
	return err
}

// Closed 返回该会话是否已关闭。
func (s *Session) Closed() bool {
	return s.closed.Load()
}

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/auth"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/bus"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/command"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/group"
	"github.com/lk2023060901/hermes-chat-go/internal/chat/session"
	"github.com/lk2023060901/hermes-chat-go/pkg/log"
	"github.com/lk2023060901/hermes-chat-go/pkg/metrics"
	"github.com/lk2023060901/hermes-chat-go/pkg/util/conc"
)

// Server 是聊天服务端的接入与编排层。
//
// 设计目标：
//   - 接入循环只负责接受连接并派发到协程池，不做任何业务逻辑；
//   - 每个连接由独立任务串行处理：登记 -> 认证握手 -> 接收协程 +
//     命令循环 -> 统一清理；
//   - 同一会话上的命令严格按到达顺序执行。
type Server struct {
	log.Binder

	cfg Config

	ln net.Listener

	dir    *session.Directory
	bus    *bus.MessageBus
	groups *group.Service
	router *command.Router
	auth   *auth.Authenticator

	// pool 为连接处理协程池，容量即在线连接数上限。
	pool *conc.Pool[struct{}]

	nextID atomic.Uint64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New 基于配置与凭据存储构建服务端，并完成全部组件装配。
func New(cfg Config, store *auth.Store) (*Server, error) {
	cfg = cfg.withDefaults()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return NewWithListener(cfg, store, ln)
}

// NewWithListener 使用已有的 Listener 构建服务端（测试用）。
func NewWithListener(cfg Config, store *auth.Store, ln net.Listener) (*Server, error) {
	if ln == nil {
		return nil, fmt.Errorf("server: listener is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("server: credential store is nil")
	}
	cfg = cfg.withDefaults()

	dir := session.NewDirectory()
	b := bus.NewMessageBus(dir)
	groups := group.NewService(dir, b)

	return &Server{
		cfg:    cfg,
		ln:     ln,
		dir:    dir,
		bus:    b,
		groups: groups,
		router: command.NewRouter(b, groups),
		auth:   auth.NewAuthenticator(dir, store, cfg.HandshakeTimeout),
		pool:   conc.NewPool[struct{}](cfg.MaxSessions),
	}, nil
}

// Addr 返回实际监听地址（便于测试在 ":0" 上启动）。
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Directory 返回会话目录（测试用）。
func (s *Server) Directory() *session.Directory {
	return s.dir
}

// Serve 运行接入循环，直至监听器被关闭或 ctx 被取消。
//
// 瞬时的 Accept 错误（如句柄耗尽）按指数退避重试，
// 监听器关闭视为正常退出。
func (s *Server) Serve(ctx context.Context) error {
	defer s.pool.Release()
	defer s.wg.Wait()

	s.Logger().Info("chat server listening",
		zap.String("addr", s.ln.Addr().String()))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 0

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			// 瞬时错误退避后重试，避免 accept 风暴。
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				d := bo.NextBackOff()
				s.Logger().RatedWarn(1.0, "accept failed, backing off",
					zap.Duration("backoff", d),
					zap.Error(err))
				time.Sleep(d)
				continue
			}
			return err
		}
		bo.Reset()

		id := s.nextID.Inc()
		s.wg.Add(1)
		s.pool.Submit(func() (struct{}, error) {
			defer s.wg.Done()
			s.handleConnection(ctx, id, conn)
			return struct{}{}, nil
		})
	}
}

// handleConnection 处理单个连接的完整生命周期。
//
// 流程：
//  1. 创建会话并登记到目录（记录首次心跳）；
//  2. 认证握手；失败则静默清理，不发送离线公告；
//  3. 向其他在线用户公告加入；
//  4. 启动接收协程，把非空输入行依序投递到会话的有界队列；
//  5. 在当前协程中顺序消费队列并路由命令，每处理一行刷新心跳；
//  6. 任一侧结束后走统一清理。
func (s *Server) handleConnection(ctx context.Context, id uint64, conn net.Conn) {
	sess := session.New(ctx, id, conn, s.cfg.InboundQueueSize)

	if err := s.dir.Register(sess); err != nil {
		s.Logger().Warn("failed to register session",
			log.FieldSession(id),
			zap.Error(err))
		_ = sess.Close()
		return
	}

	s.Logger().Info("connection accepted",
		log.FieldSession(id),
		log.FieldRemoteAddr(sess.RemoteAddr().String()))

	username, err := s.auth.Authenticate(sess)
	if err != nil {
		s.Logger().Info("authentication failed",
			log.FieldSession(id),
			log.FieldRemoteAddr(sess.RemoteAddr().String()),
			zap.Error(err))
		s.bus.Teardown(sess, metrics.DisconnectReasonAuthFailed, false)
		return
	}

	s.bus.Announce(fmt.Sprintf("%s has joined the chat.", username), sess)

	// 接收协程：唯一的队列写入方，退出时关闭队列以终止命令循环。
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer sess.CloseInbound()
		s.receiveLoop(sess)
	}()

	exited := false
	for line := range sess.Inbound() {
		s.dir.Touch(id)
		if s.router.Route(sess, line) {
			exited = true
			break
		}
	}

	wg.Wait()

	if !exited {
		// 对端关闭或读失败：统一清理 + 离线公告（幂等）。
		s.bus.Teardown(sess, metrics.DisconnectReasonReadError, true)
	}
}

// receiveLoop 持续读取输入行并投递到会话队列。
//
// 空行被忽略；对端关闭、读错误或会话被关闭时退出。
// 队列已满时阻塞在投递上，对单个客户端形成背压。
func (s *Server) receiveLoop(sess *session.Session) {
	for {
		line, err := sess.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.Logger().Debug("session read failed",
				log.FieldSession(sess.ID()),
				log.FieldUser(sess.Username()),
				zap.Error(err))
			return
		}
		if line == "" {
			continue
		}
		if err := sess.Enqueue(line); err != nil {
			return
		}
	}
}

// SweepLoop 周期性巡检心跳，将超过最长静默时间的会话强制下线。
// 随 ctx 取消而退出。
func (s *Server) SweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

// sweepOnce 执行一轮心跳巡检。
func (s *Server) sweepOnce() {
	deadline := time.Now().Add(-s.cfg.HeartbeatTimeout)
	for _, sess := range s.dir.IdleSessions(deadline) {
		s.Logger().Info("sweeping idle session",
			log.FieldSession(sess.ID()),
			log.FieldUser(sess.Username()))
		s.bus.Teardown(sess, metrics.DisconnectReasonTimeout, true)
	}
}

// Shutdown 停止接受新连接并关闭全部现存会话。
//
// 停服路径不向客户端发送任何收尾消息：逐个关闭连接即可，
// 网络写失败在此阶段没有意义。
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		_ = s.ln.Close()
		for _, sess := range s.dir.SnapshotAll() {
			s.bus.Teardown(sess, metrics.DisconnectReasonShutdown, false)
		}
	})
}

package server

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/auth"
	"github.com/lk2023060901/hermes-chat-go/pkg/log"
)

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	store := auth.NewStore(map[string]string{
		"alice":   "password123",
		"bob":     "hunter2",
		"charlie": "secret",
		"dave":    "qwerty",
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv, err := NewWithListener(cfg, store, ln)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		srv.Shutdown()
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(3 * time.Second):
			t.Error("server did not stop in time")
		}
	})
	return srv
}

// testClient 为测试用的行协议客户端。
type testClient struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testClient {
	t.Helper()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
}

// login 完成认证握手并读到欢迎语。
func login(t *testing.T, srv *Server, username, password string) *testClient {
	t.Helper()

	c := dial(t, srv)
	c.send(username)
	c.send(password)
	c.expect("Welcome to the chat server!")
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

// expect 持续按行读取，直到读到包含 substr 的一行并返回它。
// 提示符不带换行，会与后续输出合并在同一行中，用 Contains 匹配。
func (c *testClient) expect(substr string) string {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		line, err := c.reader.ReadString('\n')
		if strings.Contains(line, substr) {
			return line
		}
		require.NoError(c.t, err, "expected %q before stream end", substr)
	}
}

// expectClosed 断言连接已被服务端关闭。
func (c *testClient) expectClosed() {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, err := c.reader.ReadString('\n'); err != nil {
			return
		}
	}
}

func TestChatScenario(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	bob := login(t, srv, "bob", "hunter2")
	alice.expect("bob has joined the chat.")

	// 群组：建群、公告、入群、群聊。
	alice.send("/create_group g1")
	alice.expect("Group g1 created.")
	bob.expect("New group 'g1' has been created by alice")

	bob.send("/join_group g1")
	bob.expect("You joined the group g1.")
	alice.expect("[Group g1]: bob has joined the group.")

	// 群聊消息回显给包括发送方在内的全部成员。
	alice.send("/group_msg g1 hello")
	alice.expect("[Group g1][alice]: hello")
	bob.expect("[Group g1][alice]: hello")
}

func TestPrivateMessage(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	bob := login(t, srv, "bob", "hunter2")
	alice.expect("bob has joined the chat.")

	bob.send("/msg alice hi")
	alice.expect("[bob]: hi")

	// 命令 token 不区分大小写。
	bob.send("/MSG alice hey")
	alice.expect("[bob]: hey")

	bob.send("/msg nobody hi")
	bob.expect("User nobody not found online")
}

func TestBroadcast(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	dave := login(t, srv, "dave", "qwerty")
	alice.expect("dave has joined the chat.")

	dave.send("/broadcast hello everyone")
	dave.expect("Message broadcast successful")
	// 广播回显给包括发送方在内的所有在线用户。
	dave.expect("[Broadcast][dave]: hello everyone")
	alice.expect("[Broadcast][dave]: hello everyone")
}

func TestServerLoggerBinding(t *testing.T) {
	srv := startTestServer(t, Config{})

	// 未绑定模块日志时退回全局 Logger。
	require.NotNil(t, srv.Logger())

	ml := log.With(zap.String("module", "server"))
	srv.SetLogger(ml)
	assert.Same(t, ml, srv.Logger())
}

func TestDuplicateLoginRejected(t *testing.T) {
	srv := startTestServer(t, Config{})

	first := login(t, srv, "charlie", "secret")

	second := dial(t, srv)
	second.send("charlie")
	second.send("secret")
	second.expect("This username is already logged in.")
	second.expectClosed()

	// 原会话不受影响，仍可正常收发。
	first.send("/users")
	first.expect("charlie")
}

func TestGroupLeaveAndDelete(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	bob := login(t, srv, "bob", "hunter2")
	alice.expect("bob has joined the chat.")

	alice.send("/create_group g1")
	alice.expect("Group g1 created.")
	bob.send("/join_group g1")
	bob.expect("You joined the group g1.")
	alice.expect("[Group g1]: bob has joined the group.")

	alice.send("/leave_group g1")
	alice.expect("You left the group g1.")
	bob.expect("[Group g1]: alice has left the group.")

	// 非成员发群聊消息被拒绝。
	alice.send("/group_msg g1 hello")
	alice.expect("Error: You are not a member of group 'g1'.")

	// 最后一名成员退出：本人先收到退组确认与删除说明，
	// 其余在线用户收到删除公告。
	bob.send("/leave_group g1")
	bob.expect("You left the group g1.")
	bob.expect("Group g1 has been deleted as you were the last remaining member.")
	alice.expect("Group 'g1' has been deleted as it has no members.")

	bob.send("/groups_users")
	bob.expect("No groups exist.")
}

func TestGroupsUsersListing(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	bob := login(t, srv, "bob", "hunter2")
	alice.expect("bob has joined the chat.")

	alice.send("/create_group g1")
	alice.expect("Group g1 created.")
	bob.send("/join_group g1")
	bob.expect("You joined the group g1.")

	bob.send("/groups_users")
	bob.expect("Groups and their members:")
	bob.expect("Group 'g1':")
	bob.expect("- alice")
	bob.expect("- bob")
}

func TestExitAnnouncesAndCleansUp(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	bob := login(t, srv, "bob", "hunter2")
	alice.expect("bob has joined the chat.")

	alice.send("/create_group g1")
	alice.expect("Group g1 created.")
	bob.send("/join_group g1")
	bob.expect("You joined the group g1.")

	alice.send("/exit")
	// 退组通知先于离线公告（清理在同一个临界区内摘除群组成员关系）。
	bob.expect("[Group g1]: alice has left the group.")
	bob.expect("alice has left the chat.")
	alice.expectClosed()

	assert.Eventually(t, func() bool {
		return srv.Directory().OnlineCount() == 1
	}, 3*time.Second, 10*time.Millisecond)

	bob.send("/users")
	users := bob.expect("Online users:")
	assert.NotContains(t, users, "alice")
}

func TestPeerDisconnectAnnounces(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	bob := login(t, srv, "bob", "hunter2")
	alice.expect("bob has joined the chat.")

	// 不发 /exit 直接断开，其他用户同样收到离线公告。
	require.NoError(t, bob.conn.Close())
	alice.expect("bob has left the chat.")
}

func TestUnknownCommandGetsHelp(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	alice.send("/bogus")
	alice.expect("Available commands:")
	alice.expect("/exit - Disconnect from server")
}

func TestUsageErrors(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")

	alice.send("/msg alice")
	alice.expect("Usage: /msg <username> <message>")

	alice.send("/broadcast")
	alice.expect("Usage: /broadcast <message>")

	alice.send("/create_group a b")
	alice.expect("Usage: /create_group <group_name>")
}

func TestHeartbeatSweep(t *testing.T) {
	srv := startTestServer(t, Config{
		HeartbeatTimeout: 150 * time.Millisecond,
		SweepInterval:    30 * time.Millisecond,
	})

	sweepCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.SweepLoop(sweepCtx) }()

	alice := login(t, srv, "alice", "password123")

	// 静默超过最长心跳时间后被强制下线。
	assert.Eventually(t, func() bool {
		return srv.Directory().OnlineCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
	alice.expectClosed()
}

func TestShutdownClosesSessions(t *testing.T) {
	srv := startTestServer(t, Config{})

	alice := login(t, srv, "alice", "password123")
	bob := login(t, srv, "bob", "hunter2")
	alice.expect("bob has joined the chat.")

	srv.Shutdown()
	alice.expectClosed()
	bob.expectClosed()
	assert.Equal(t, 0, srv.Directory().OnlineCount())
}

package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

type DirectorySuite struct {
	suite.Suite

	dir *Directory
	ln  net.Listener
}

func (s *DirectorySuite) SetupTest() {
	s.dir = NewDirectory()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.ln = ln
}

func (s *DirectorySuite) TearDownTest() {
	_ = s.ln.Close()
}

// newSession 建立一对真实的 TCP 连接，返回服务端侧会话与客户端侧连接。
func (s *DirectorySuite) newSession(id uint64) (*Session, net.Conn) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := net.Dial("tcp", s.ln.Addr().String())
		ch <- result{conn: conn, err: err}
	}()

	server, err := s.ln.Accept()
	s.Require().NoError(err)

	r := <-ch
	s.Require().NoError(r.err)

	sess := New(context.Background(), id, server, 16)
	s.T().Cleanup(func() {
		_ = sess.Close()
		_ = r.conn.Close()
	})
	return sess, r.conn
}

func (s *DirectorySuite) registered(id uint64, username string) *Session {
	sess, _ := s.newSession(id)
	s.Require().NoError(s.dir.Register(sess))
	if username != "" {
		_, err := s.dir.Bind(sess, username)
		s.Require().NoError(err)
	}
	return sess
}

func (s *DirectorySuite) TestRegisterAndBind() {
	sess := s.registered(1, "alice")

	name, ok := s.dir.Resolve(sess.ID())
	s.True(ok)
	s.Equal("alice", name)
	s.Equal("alice", sess.Username())

	found, ok := s.dir.LookupByName("alice")
	s.True(ok)
	s.Same(sess, found)

	s.Equal([]string{"alice"}, s.dir.Usernames())
	s.Equal(1, s.dir.OnlineCount())

	// 重复登记同一个 ID 被拒绝。
	s.ErrorIs(s.dir.Register(sess), merr.ErrSessionDuplicate)
}

func (s *DirectorySuite) TestBindRejectsLiveDuplicate() {
	s.registered(1, "alice")

	second := s.registered(2, "")
	_, err := s.dir.Bind(second, "alice")
	s.ErrorIs(err, merr.ErrAuthAlreadyOnline)

	// 原会话仍然在线，新会话未被绑定。
	found, ok := s.dir.LookupByName("alice")
	s.True(ok)
	s.Equal(uint64(1), found.ID())
	s.Empty(second.Username())
}

func (s *DirectorySuite) TestBindEvictsStaleDuplicate() {
	first := s.registered(1, "alice")
	s.Require().NoError(first.Close())

	second := s.registered(2, "")
	result, err := s.dir.Bind(second, "alice")
	s.NoError(err)
	s.Same(first, result.Stale)

	found, ok := s.dir.LookupByName("alice")
	s.True(ok)
	s.Equal(uint64(2), found.ID())

	// 陈旧会话的全部登记项已被摘除。
	_, ok = s.dir.Resolve(first.ID())
	s.False(ok)
}

func (s *DirectorySuite) TestProbeDuplicate() {
	// 用户名未绑定时为空操作。
	stale, err := s.dir.ProbeDuplicate("alice")
	s.NoError(err)
	s.Nil(stale)

	// 同名会话探测存活时拒绝。
	first := s.registered(1, "alice")
	_, err = s.dir.ProbeDuplicate("alice")
	s.ErrorIs(err, merr.ErrAuthAlreadyOnline)
	found, ok := s.dir.LookupByName("alice")
	s.True(ok)
	s.Same(first, found)

	// 同名会话已陈旧时就地摘除并返回其快照。
	s.Require().NoError(first.Close())
	stale, err = s.dir.ProbeDuplicate("alice")
	s.NoError(err)
	s.Same(first, stale)
	_, ok = s.dir.LookupByName("alice")
	s.False(ok)
}

func (s *DirectorySuite) TestDisconnectIsIdempotent() {
	sess := s.registered(1, "alice")

	result := s.dir.Disconnect(sess.ID())
	s.True(result.Performed)
	s.Equal("alice", result.Username)

	s.Equal(0, s.dir.OnlineCount())
	_, ok := s.dir.LookupByName("alice")
	s.False(ok)

	// 重复摘除不再生效。
	s.False(s.dir.Disconnect(sess.ID()).Performed)
}

func (s *DirectorySuite) TestDisconnectRemovesFromAllGroups() {
	alice := s.registered(1, "alice")
	bob := s.registered(2, "bob")

	_, err := s.dir.CreateGroup(alice.ID(), "g1")
	s.Require().NoError(err)
	_, err = s.dir.CreateGroup(alice.ID(), "g2")
	s.Require().NoError(err)
	_, err = s.dir.JoinGroup(bob.ID(), "g1")
	s.Require().NoError(err)

	result := s.dir.Disconnect(alice.ID())
	s.Require().True(result.Performed)
	s.Require().Len(result.Groups, 2)

	// g1 剩余 bob；g2 因成员集变空被删除。
	s.Equal("g1", result.Groups[0].Group)
	s.False(result.Groups[0].Deleted)
	s.Len(result.Groups[0].Remaining, 1)
	s.Same(bob, result.Groups[0].Remaining[0])

	s.Equal("g2", result.Groups[1].Group)
	s.True(result.Groups[1].Deleted)

	s.Equal(1, s.dir.GroupCount())
}

func (s *DirectorySuite) TestGroupLifecycle() {
	alice := s.registered(1, "alice")
	bob := s.registered(2, "bob")

	others, err := s.dir.CreateGroup(alice.ID(), "g1")
	s.NoError(err)
	s.Len(others, 1)
	s.Same(bob, others[0])

	_, err = s.dir.CreateGroup(bob.ID(), "g1")
	s.ErrorIs(err, merr.ErrGroupAlreadyExists)

	existing, err := s.dir.JoinGroup(bob.ID(), "g1")
	s.NoError(err)
	s.Len(existing, 1)
	s.Same(alice, existing[0])

	_, err = s.dir.JoinGroup(bob.ID(), "g1")
	s.ErrorIs(err, merr.ErrGroupAlreadyMember)
	_, err = s.dir.JoinGroup(bob.ID(), "nope")
	s.ErrorIs(err, merr.ErrGroupNotFound)

	members, err := s.dir.GroupMembers(alice.ID(), "g1")
	s.NoError(err)
	s.Len(members, 2)

	// 非成员不能向群组发消息。
	charlie := s.registered(3, "charlie")
	_, err = s.dir.GroupMembers(charlie.ID(), "g1")
	s.ErrorIs(err, merr.ErrGroupNotMember)

	infos := s.dir.GroupsSnapshot()
	s.Require().Len(infos, 1)
	s.Equal("g1", infos[0].Name)
	s.Equal([]string{"alice", "bob"}, infos[0].Members)
}

func (s *DirectorySuite) TestLeaveGroupDeletesWhenEmpty() {
	alice := s.registered(1, "alice")
	bob := s.registered(2, "bob")

	_, err := s.dir.CreateGroup(alice.ID(), "g1")
	s.Require().NoError(err)
	_, err = s.dir.JoinGroup(bob.ID(), "g1")
	s.Require().NoError(err)

	result, err := s.dir.LeaveGroup(bob.ID(), "g1")
	s.NoError(err)
	s.False(result.Deleted)
	s.Len(result.Remaining, 1)

	_, err = s.dir.LeaveGroup(bob.ID(), "g1")
	s.ErrorIs(err, merr.ErrGroupNotMember)

	result, err = s.dir.LeaveGroup(alice.ID(), "g1")
	s.NoError(err)
	s.True(result.Deleted)
	s.Equal(0, s.dir.GroupCount())
}

func (s *DirectorySuite) TestIdleSessions() {
	alice := s.registered(1, "alice")
	s.registered(2, "bob")

	time.Sleep(20 * time.Millisecond)
	s.dir.Touch(2)

	idle := s.dir.IdleSessions(time.Now().Add(-10 * time.Millisecond))
	s.Require().Len(idle, 1)
	s.Same(alice, idle[0])

	// 全部刷新后无失活会话。
	s.dir.Touch(1)
	s.Empty(s.dir.IdleSessions(time.Now().Add(-10 * time.Millisecond)))
}

func TestDirectory(t *testing.T) {
	suite.Run(t, new(DirectorySuite))
}

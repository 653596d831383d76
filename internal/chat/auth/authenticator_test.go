package auth

import (
	"bufio"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/hermes-chat-go/internal/chat/session"
	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		ch <- result{conn: conn, err: err}
	}()

	server, err := ln.Accept()
	require.NoError(t, err)

	r := <-ch
	require.NoError(t, r.err)

	t.Cleanup(func() {
		_ = server.Close()
		_ = r.conn.Close()
	})
	return server, r.conn
}

type authResult struct {
	username string
	err      error
}

// runHandshake 在独立协程中执行认证，客户端按行写入 inputs，
// 返回认证结果与服务端写出的全部内容。
func runHandshake(t *testing.T, a *Authenticator, dir *session.Directory, id uint64, inputs string) (authResult, string) {
	t.Helper()

	server, client := tcpPair(t)
	sess := session.New(context.Background(), id, server, 16)
	require.NoError(t, dir.Register(sess))

	resultCh := make(chan authResult, 1)
	go func() {
		username, err := a.Authenticate(sess)
		resultCh <- authResult{username: username, err: err}
	}()

	if inputs != "" {
		_, err := client.Write([]byte(inputs))
		require.NoError(t, err)
	}

	result := <-resultCh

	// 握手结束后关闭服务端写端，读尽客户端收到的全部内容。
	_ = sess.Close()
	received, _ := io.ReadAll(bufio.NewReader(client))
	return result, string(received)
}

func newTestAuthenticator(dir *session.Directory) *Authenticator {
	store := NewStore(map[string]string{
		"alice": "password123",
		"bob":   "hunter2",
	})
	return NewAuthenticator(dir, store, time.Second)
}

func TestAuthenticateSuccess(t *testing.T) {
	dir := session.NewDirectory()
	a := newTestAuthenticator(dir)

	result, received := runHandshake(t, a, dir, 1, "alice\npassword123\n")
	require.NoError(t, result.err)
	assert.Equal(t, "alice", result.username)

	assert.Contains(t, received, "Enter username: ")
	assert.Contains(t, received, "Enter password: ")
	assert.Contains(t, received, "Welcome to the chat server!\n")

	found, ok := dir.LookupByName("alice")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), found.ID())
}

func TestAuthenticateBadPassword(t *testing.T) {
	dir := session.NewDirectory()
	a := newTestAuthenticator(dir)

	result, received := runHandshake(t, a, dir, 1, "alice\nwrong\n")
	assert.ErrorIs(t, result.err, merr.ErrAuthBadCredential)
	assert.Contains(t, received, "Invalid username or password.\n")

	_, ok := dir.LookupByName("alice")
	assert.False(t, ok)
}

func TestAuthenticateUnknownUser(t *testing.T) {
	dir := session.NewDirectory()
	a := newTestAuthenticator(dir)

	result, received := runHandshake(t, a, dir, 1, "mallory\nwhatever\n")
	assert.ErrorIs(t, result.err, merr.ErrAuthUnknownUser)
	// 未知用户与口令错误对客户端呈现同一段文案，
	// 且拒绝发生在索取口令之前。
	assert.Contains(t, received, "Invalid username or password.\n")
	assert.NotContains(t, received, "Enter password: ")
	assert.NotContains(t, received, "mallory")
}

func TestAuthenticateEmptyUsername(t *testing.T) {
	dir := session.NewDirectory()
	a := newTestAuthenticator(dir)

	result, received := runHandshake(t, a, dir, 1, "\n")
	assert.ErrorIs(t, result.err, merr.ErrAuthBadInput)
	assert.Contains(t, received, "Invalid username or password.\n")
}

func TestAuthenticateDuplicateLogin(t *testing.T) {
	dir := session.NewDirectory()
	a := newTestAuthenticator(dir)

	first, firstClient := tcpPair(t)
	firstSess := session.New(context.Background(), 1, first, 16)
	require.NoError(t, dir.Register(firstSess))
	_, err := dir.Bind(firstSess, "alice")
	require.NoError(t, err)
	defer firstClient.Close()

	result, received := runHandshake(t, a, dir, 2, "alice\npassword123\n")
	assert.ErrorIs(t, result.err, merr.ErrAuthAlreadyOnline)
	// 乐观检查在索取口令之前即拒绝确定在线的重复登录。
	assert.Contains(t, received, "This username is already logged in.\n")
	assert.NotContains(t, received, "Enter password: ")

	// 原会话不受影响。
	found, ok := dir.LookupByName("alice")
	assert.True(t, ok)
	assert.Equal(t, uint64(1), found.ID())
}

func TestAuthenticateEvictsStaleDuplicate(t *testing.T) {
	dir := session.NewDirectory()
	a := newTestAuthenticator(dir)

	first, _ := tcpPair(t)
	firstSess := session.New(context.Background(), 1, first, 16)
	require.NoError(t, dir.Register(firstSess))
	_, err := dir.Bind(firstSess, "alice")
	require.NoError(t, err)
	require.NoError(t, firstSess.Close())

	result, received := runHandshake(t, a, dir, 2, "alice\npassword123\n")
	require.NoError(t, result.err)
	assert.Equal(t, "alice", result.username)
	assert.Contains(t, received, "Welcome to the chat server!\n")

	found, ok := dir.LookupByName("alice")
	assert.True(t, ok)
	assert.Equal(t, uint64(2), found.ID())
}

func TestAuthenticateTimeout(t *testing.T) {
	dir := session.NewDirectory()
	store := NewStore(map[string]string{"alice": "password123"})
	a := NewAuthenticator(dir, store, 50*time.Millisecond)

	result, _ := runHandshake(t, a, dir, 1, "")
	assert.ErrorIs(t, result.err, merr.ErrAuthTimeout)
}

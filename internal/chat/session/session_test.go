package session

import (
	"bufio"
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
)

func TestSessionWriteLine(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := New(context.Background(), 1, server, 4)
	defer sess.Close()

	reader := bufio.NewReader(client)
	done := make(chan struct{})
	go func() {
		defer close(done)
		line, err := reader.ReadString('\n')
		assert.NoError(t, err)
		assert.Equal(t, "hello\n", line)

		line, err = reader.ReadString('\n')
		assert.NoError(t, err)
		assert.Equal(t, "world\n", line)
	}()

	// 缺换行时自动补齐，已带换行时原样写出。
	require.NoError(t, sess.WriteLine("hello"))
	require.NoError(t, sess.WriteLine("world\n"))
	<-done
}

func TestSessionReadLineTrimsWhitespace(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	sess := New(context.Background(), 1, server, 4)
	defer sess.Close()

	go func() {
		_, _ = client.Write([]byte("  /users  \r\n"))
	}()

	line, err := sess.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "/users", line)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	server, _ := net.Pipe()

	sess := New(context.Background(), 1, server, 4)
	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	assert.True(t, sess.Closed())

	// 关闭后写与投递均被拒绝。
	assert.ErrorIs(t, sess.WriteLine("x"), merr.ErrSessionClosed)
	assert.ErrorIs(t, sess.Enqueue("x"), merr.ErrSessionClosed)

	select {
	case <-sess.Context().Done():
	default:
		t.Fatal("session context should be cancelled after Close")
	}
}

func TestSessionEnqueueOrder(t *testing.T) {
	server, _ := net.Pipe()
	sess := New(context.Background(), 1, server, 4)
	defer sess.Close()

	require.NoError(t, sess.Enqueue("first"))
	require.NoError(t, sess.Enqueue("second"))
	sess.CloseInbound()

	var got []string
	for line := range sess.Inbound() {
		got = append(got, line)
	}
	assert.Equal(t, []string{"first", "second"}, got)
}

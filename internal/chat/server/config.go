package server

import "time"

// Config 为聊天服务端的运行参数。
type Config struct {
	// Addr 为 TCP 监听地址，例如 "0.0.0.0:5555"。
	Addr string

	// CredentialFile 为凭据文件路径。
	CredentialFile string

	// HandshakeTimeout 为认证握手中单次读的超时时间。
	HandshakeTimeout time.Duration

	// InboundQueueSize 为每个会话的入站行队列容量。
	InboundQueueSize int

	// MaxSessions 为连接处理协程池的容量上限。
	MaxSessions int

	// HeartbeatTimeout 为会话的最长静默时间，超过后被判定失活。
	HeartbeatTimeout time.Duration

	// SweepInterval 为心跳巡检周期。
	SweepInterval time.Duration
}

// 缺省运行参数。
const (
	DefaultAddr             = "0.0.0.0:5555"
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultInboundQueueSize = 256
	DefaultMaxSessions      = 4096
	DefaultHeartbeatTimeout = 5 * time.Minute
	DefaultSweepInterval    = 30 * time.Second
)

// withDefaults 补齐未设置的字段。
func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.InboundQueueSize <= 0 {
		c.InboundQueueSize = DefaultInboundQueueSize
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

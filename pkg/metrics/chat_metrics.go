// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ChatMetricsRegisterOnce sync.Once

	// OnlineSessions 为当前已完成认证并在线的会话数量。
	OnlineSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "online_sessions",
		Help:      "当前在线会话数量",
	})

	// ActiveGroups 为当前存在的群组数量。
	ActiveGroups = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "active_groups",
		Help:      "当前存在的群组数量",
	})

	// MessagesRouted 按消息类型统计路由成功的消息条数。
	MessagesRouted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "messages_routed_total",
		Help:      "按类型统计的消息路由成功条数",
	}, []string{"type"})

	// MessageSendFailures 按消息类型统计对端写失败次数。
	MessageSendFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "message_send_failures_total",
		Help:      "按类型统计的消息发送失败次数",
	}, []string{"type"})

	// AuthAttempts 统计认证尝试总数。
	AuthAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "auth_attempts_total",
		Help:      "认证尝试总数",
	})

	// AuthFailures 按失败原因统计认证失败次数。
	AuthFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "auth_failures_total",
		Help:      "按原因统计的认证失败次数",
	}, []string{"reason"})

	// SessionDisconnects 按断开原因统计会话断开次数。
	SessionDisconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "session_disconnects_total",
		Help:      "按原因统计的会话断开次数",
	}, []string{"reason"})

	// CommandsProcessed 按命令统计命令执行次数。
	CommandsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: hermesNamespace,
		Subsystem: chatMetricSubsystem,
		Name:      "commands_processed_total",
		Help:      "按命令统计的执行次数",
	}, []string{"command"})
)

// RegisterChatMetrics 将聊天相关指标注册到给定 Registry。
// 多次调用只会注册一次。
func RegisterChatMetrics(registry *prometheus.Registry) {
	ChatMetricsRegisterOnce.Do(func() {
		registry.MustRegister(OnlineSessions)
		registry.MustRegister(ActiveGroups)
		registry.MustRegister(MessagesRouted)
		registry.MustRegister(MessageSendFailures)
		registry.MustRegister(AuthAttempts)
		registry.MustRegister(AuthFailures)
		registry.MustRegister(SessionDisconnects)
		registry.MustRegister(CommandsProcessed)
	})
}

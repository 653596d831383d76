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

const (
	hermesNamespace = "hermes"

	chatMetricSubsystem = "chat"
)

// 消息类型标签值。
const (
	MessageTypePrivate   = "private"
	MessageTypeBroadcast = "broadcast"
	MessageTypeGroup     = "group"
	MessageTypeSystem    = "system"
)

// 断开原因标签值。
const (
	DisconnectReasonExit       = "exit"
	DisconnectReasonAuthFailed = "auth_failed"
	DisconnectReasonReadError  = "read_error"
	DisconnectReasonSendError  = "send_error"
	DisconnectReasonTimeout    = "heartbeat_timeout"
	DisconnectReasonStale      = "stale_eviction"
	DisconnectReasonShutdown   = "shutdown"
)

// 认证失败原因标签值。
const (
	AuthFailureTimeout    = "timeout"
	AuthFailureBadInput   = "bad_input"
	AuthFailureCredential = "credential_mismatch"
	AuthFailureDuplicate  = "duplicate_login"
	AuthFailureSendError  = "send_error"
)

package session

import (
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/hermes-chat-go/pkg/util/merr"
	"github.com/lk2023060901/hermes-chat-go/pkg/util/typeutil"
)

// Directory 是会话、用户名、心跳与群组成员关系的唯一归属方。
//
// 约定：
//   - 所有共享状态都只在 Directory 内部、持同一把全局锁时发生变更，
//     不向外暴露底层 map；
//   - 每个导出方法即一个完整的临界区：调用方观察不到中间状态
//     （例如"群组存在但成员集为空"这类瞬态不可见）；
//   - 需要对成员做网络写的操作（通知、告警）在方法内部只生成
//     会话快照，真正的写在锁外由调用方完成，避免 I/O 持锁。
type Directory struct {
	mu sync.RWMutex

	// sessions 含所有已接入连接（包括尚未完成认证的）。
	sessions map[uint64]*Session

	// names/byName 仅含认证完成的会话，维护 用户名<->会话 双向索引。
	// 同一用户名在任意时刻至多绑定一个会话。
	names  map[uint64]string
	byName map[string]uint64

	// beats 记录每个会话最近一次活跃时间。
	beats map[uint64]time.Time

	// groups 为 群组名 -> 成员会话 ID 集合。
	// 不变式：群组存在当且仅当成员集非空。
	groups map[string]typeutil.SessionSet
}

// NewDirectory 创建一个空的会话目录。
func NewDirectory() *Directory {
	return &Directory{
		sessions: make(map[uint64]*Session),
		names:    make(map[uint64]string),
		byName:   make(map[string]uint64),
		beats:    make(map[uint64]time.Time),
		groups:   make(map[string]typeutil.SessionSet),
	}
}

// Register 将新接入的连接登记到目录中，并记录首次心跳。
// 会话 ID 冲突时返回错误（调用侧 ID 分配异常）。
func (d *Directory) Register(sess *Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[sess.ID()]; ok {
		return merr.WrapErrSessionDuplicate(sess.ID(), "register")
	}
	d.sessions[sess.ID()] = sess
	d.beats[sess.ID()] = time.Now()
	return nil
}

// ProbeDuplicate 在索取口令前对同名在线会话做一次乐观的重复登录
// 检查：
//   - 旧会话探测存活时返回 ErrAuthAlreadyOnline；
//   - 探测失败说明旧会话已陈旧，原子地将其摘除并返回其快照，
//     由调用方在锁外关闭；
//   - 用户名未绑定任何会话时返回 (nil, nil)。
//
// 本方法返回后锁即释放，不构成最终判定；绑定与最终检查仍由 Bind
// 在同一个临界区内完成。
func (d *Directory) ProbeDuplicate(username string) (*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	prevID, ok := d.byName[username]
	if !ok {
		return nil, nil
	}
	prev := d.sessions[prevID]
	if prev != nil && prev.Probe() == nil {
		return nil, merr.WrapErrAuthAlreadyOnline(username)
	}
	d.evictLocked(prevID)
	return prev, nil
}

// BindResult 描述一次用户名绑定的结果。
type BindResult struct {
	// Stale 非 nil 时表示检测到同名的陈旧会话并已将其从目录摘除，
	// 调用方应在锁外关闭该会话。
	Stale *Session
}

// Bind 在认证通过后将用户名绑定到会话上。
//
// 与重复登录检查构成同一个临界区：
//   - 若该用户名已有在线会话，先对旧会话做探测写；
//   - 探测失败说明旧会话已陈旧，原子地将其摘除后完成绑定；
//   - 探测成功说明用户确在线，返回 ErrAuthAlreadyOnline。
func (d *Directory) Bind(sess *Session, username string) (BindResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var result BindResult

	if prevID, ok := d.byName[username]; ok {
		prev := d.sessions[prevID]
		if prev != nil && prev.Probe() == nil {
			return result, merr.WrapErrAuthAlreadyOnline(username)
		}
		// 旧会话已失效：摘除其全部登记项后允许本次登录。
		d.evictLocked(prevID)
		result.Stale = prev
	}

	if _, ok := d.sessions[sess.ID()]; !ok {
		return result, merr.WrapErrSessionNotFound(sess.ID(), "bind")
	}

	sess.SetUsername(username)
	d.names[sess.ID()] = username
	d.byName[username] = sess.ID()
	d.beats[sess.ID()] = time.Now()
	return result, nil
}

// Resolve 返回会话 ID 对应的用户名。
func (d *Directory) Resolve(id uint64) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	name, ok := d.names[id]
	return name, ok
}

// LookupByName 返回用户名对应的在线会话。
func (d *Directory) LookupByName(username string) (*Session, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byName[username]
	if !ok {
		return nil, false
	}
	sess, ok := d.sessions[id]
	return sess, ok
}

// Touch 刷新会话心跳。会话不存在时为空操作。
func (d *Directory) Touch(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; ok {
		d.beats[id] = time.Now()
	}
}

// IdleSessions 返回最近活跃时间早于 deadline 的全部会话快照。
// 仅做筛选，不做摘除；摘除由调用方走统一清理路径完成。
func (d *Directory) IdleSessions(deadline time.Time) []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var idle []*Session
	for id, last := range d.beats {
		if last.Before(deadline) {
			if sess, ok := d.sessions[id]; ok {
				idle = append(idle, sess)
			}
		}
	}
	return idle
}

// Snapshot 返回全部认证完成会话的快照，供锁外的消息扇出使用。
func (d *Directory) Snapshot() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Session, 0, len(d.names))
	for id := range d.names {
		if sess, ok := d.sessions[id]; ok {
			out = append(out, sess)
		}
	}
	return out
}

// SnapshotAll 返回全部已登记会话的快照，包括尚未完成认证的。
// 用于停服时的批量关闭。
func (d *Directory) SnapshotAll() []*Session {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*Session, 0, len(d.sessions))
	for _, sess := range d.sessions {
		out = append(out, sess)
	}
	return out
}

// Usernames 返回当前在线用户名列表（字典序）。
func (d *Directory) Usernames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]string, 0, len(d.byName))
	for name := range d.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OnlineCount 返回认证完成的在线会话数。
func (d *Directory) OnlineCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.names)
}

// GroupRemoval 描述统一清理过程中某个群组的成员变化，
// 供调用方在锁外向剩余成员发送离组通知。
type GroupRemoval struct {
	Group     string
	Remaining []*Session
	Deleted   bool
}

// DisconnectResult 描述一次摘除操作的结果。
type DisconnectResult struct {
	// Performed 为 false 表示该会话此前已被摘除（幂等重入）。
	Performed bool
	// Username 为被摘除会话的用户名；未完成认证时为空。
	Username string
	// Groups 为该会话退出的全部群组及其剩余成员快照。
	Groups []GroupRemoval
}

// Disconnect 原子地将会话从目录中摘除：会话表、用户名索引、
// 心跳表与全部群组成员集在同一个临界区内完成清理。
//
// 该方法只变更登记状态，不关闭连接、不发送任何通知；
// 二者由调用方在锁外基于返回的快照完成。重复调用是幂等的。
func (d *Directory) Disconnect(id uint64) DisconnectResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; !ok {
		return DisconnectResult{}
	}

	result := DisconnectResult{
		Performed: true,
		Username:  d.names[id],
		Groups:    d.removeFromAllGroupsLocked(id),
	}
	d.evictLocked(id)
	return result
}

// evictLocked 清理会话的基础登记项。调用方必须已持写锁。
func (d *Directory) evictLocked(id uint64) {
	if name, ok := d.names[id]; ok {
		delete(d.byName, name)
	}
	delete(d.names, id)
	delete(d.sessions, id)
	delete(d.beats, id)
}

// removeFromAllGroupsLocked 将会话从其加入的全部群组中移除，
// 成员集变空的群组随之删除。调用方必须已持写锁。
func (d *Directory) removeFromAllGroupsLocked(id uint64) []GroupRemoval {
	var removals []GroupRemoval
	for name, members := range d.groups {
		if !members.Contain(id) {
			continue
		}
		members.Remove(id)

		removal := GroupRemoval{Group: name}
		if members.Len() == 0 {
			delete(d.groups, name)
			removal.Deleted = true
		} else {
			removal.Remaining = d.membersLocked(members)
		}
		removals = append(removals, removal)
	}
	sort.Slice(removals, func(i, j int) bool {
		return removals[i].Group < removals[j].Group
	})
	return removals
}

// membersLocked 将成员 ID 集合解析为会话快照。调用方必须已持锁。
func (d *Directory) membersLocked(members typeutil.SessionSet) []*Session {
	out := make([]*Session, 0, members.Len())
	for _, id := range members.Collect() {
		if sess, ok := d.sessions[id]; ok {
			out = append(out, sess)
		}
	}
	return out
}

// CreateGroup 创建新群组，创建者自动成为首个成员。
//
// 返回除创建者外全部在线会话的快照，供调用方在锁外做建群公告。
// 群组已存在时返回 ErrGroupAlreadyExists。
func (d *Directory) CreateGroup(creatorID uint64, name string) ([]*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.groups[name]; ok {
		return nil, merr.WrapErrGroupAlreadyExists(name)
	}
	if _, ok := d.names[creatorID]; !ok {
		return nil, merr.WrapErrSessionNotFound(creatorID, "create group")
	}

	d.groups[name] = typeutil.NewSessionSet(creatorID)

	others := make([]*Session, 0, len(d.names))
	for id := range d.names {
		if id == creatorID {
			continue
		}
		if sess, ok := d.sessions[id]; ok {
			others = append(others, sess)
		}
	}
	return others, nil
}

// JoinGroup 将会话加入已有群组。
//
// 返回加入前已有成员的快照，供调用方在锁外发送入组通知。
func (d *Directory) JoinGroup(id uint64, name string) ([]*Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.groups[name]
	if !ok {
		return nil, merr.WrapErrGroupNotFound(name)
	}
	if members.Contain(id) {
		return nil, merr.WrapErrGroupAlreadyMember(name, d.names[id])
	}

	existing := d.membersLocked(members)
	members.Insert(id)
	return existing, nil
}

// LeaveResult 描述一次主动退组的结果。
type LeaveResult struct {
	// Remaining 为退组后剩余成员的快照；群组被删除时为 nil。
	Remaining []*Session
	// Deleted 表示退组导致群组成员集变空、群组已被删除。
	Deleted bool
}

// LeaveGroup 将会话从群组中移除；最后一名成员退出时删除群组。
func (d *Directory) LeaveGroup(id uint64, name string) (LeaveResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.groups[name]
	if !ok || !members.Contain(id) {
		return LeaveResult{}, merr.WrapErrGroupNotMember(name, d.names[id])
	}

	members.Remove(id)
	if members.Len() == 0 {
		delete(d.groups, name)
		return LeaveResult{Deleted: true}, nil
	}
	return LeaveResult{Remaining: d.membersLocked(members)}, nil
}

// GroupMembers 返回群组全部成员的快照。
//
// senderID 必须是群组成员，否则返回 ErrGroupNotMember；
// 群组不存在同样以 ErrGroupNotMember 报告（二者对发送方不可区分）。
func (d *Directory) GroupMembers(senderID uint64, name string) ([]*Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members, ok := d.groups[name]
	if !ok || !members.Contain(senderID) {
		return nil, merr.WrapErrGroupNotMember(name, d.names[senderID])
	}
	return d.membersLocked(members), nil
}

// GroupInfo 为单个群组的只读快照。
type GroupInfo struct {
	Name    string
	Members []string
}

// GroupsSnapshot 返回全部群组及其成员用户名的快照（群组名字典序，
// 成员名字典序）。
func (d *Directory) GroupsSnapshot() []GroupInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]GroupInfo, 0, len(d.groups))
	for name, members := range d.groups {
		info := GroupInfo{Name: name}
		for _, id := range members.Collect() {
			if username, ok := d.names[id]; ok {
				info.Members = append(info.Members, username)
			}
		}
		sort.Strings(info.Members)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// GroupCount 返回当前群组数量。
func (d *Directory) GroupCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.groups)
}

// internal/zookeeper/lock.go
package zookeeper

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
)

const (
	lockRoot = "/topup_locks" // 所有分布式锁的根节点
	seqLen   = 10             // zk 顺序节点后缀的位数
)

var ErrLockHeld = errors.New("lock is held by another session")

// Conn 是 ZooKeeper 连接
type Conn struct {
	*zk.Conn
}

// Connect servers 格式为 "host1:2181,host2:2181"
func Connect(servers string, sessionTimeout time.Duration) (*Conn, error) {
	conn, _, err := zk.Connect(strings.Split(servers, ","), sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	return &Conn{Conn: conn}, nil
}

// DistributedLock 定义了一个分布式锁对象
type DistributedLock struct {
	conn     *Conn
	path     string // 锁的路径，例如 /topup_locks/<order-id>
	lockNode string // 成功获取锁后，自己创建的节点路径
}

// NewDistributedLock 创建锁对象，并确保锁路径存在
func NewDistributedLock(conn *Conn, resourceID string) (*DistributedLock, error) {
	lockPath := lockRoot + "/" + resourceID
	for _, p := range []string{lockRoot, lockPath} {
		if err := ensureNode(conn, p); err != nil {
			return nil, err
		}
	}
	return &DistributedLock{conn: conn, path: lockPath}, nil
}

func ensureNode(conn *Conn, path string) error {
	exists, _, err := conn.Exists(path)
	if err != nil {
		return fmt.Errorf("failed to check node %s: %w", path, err)
	}
	if exists {
		return nil
	}
	if _, err := conn.Create(path, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("failed to create node %s: %w", path, err)
	}
	return nil
}

// TryLock 非阻塞地获取锁：创建临时顺序节点，只有序号最小时才算成功，否则撤回节点并返回 ErrLockHeld
func (l *DistributedLock) TryLock() error {
	nodePath, err := l.conn.CreateProtectedEphemeralSequential(l.path+"/lock-", nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return fmt.Errorf("failed to create sequential node: %w", err)
	}

	children, _, err := l.conn.Children(l.path)
	if err != nil {
		_ = l.conn.Delete(nodePath, -1)
		return fmt.Errorf("failed to get children nodes: %w", err)
	}
	sortBySequence(children)

	myNodeName := strings.TrimPrefix(nodePath, l.path+"/")
	if len(children) == 0 || children[0] != myNodeName {
		_ = l.conn.Delete(nodePath, -1)
		return ErrLockHeld
	}
	l.lockNode = nodePath
	return nil
}

// Unlock 释放锁，并顺手清理空的锁路径
func (l *DistributedLock) Unlock() error {
	if l.lockNode == "" {
		return errors.New("no lock to unlock")
	}
	if err := l.conn.Delete(l.lockNode, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock node: %w", err)
	}
	l.lockNode = ""
	if err := l.conn.Delete(l.path, -1); err != nil && !errors.Is(err, zk.ErrNotEmpty) && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("failed to delete lock path: %w", err)
	}
	return nil
}

// sortBySequence 受保护节点带有随机 GUID 前缀，必须按顺序号而不是整个名字排序
func sortBySequence(children []string) {
	sort.Slice(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
}

func sequenceOf(name string) string {
	if len(name) < seqLen {
		return name
	}
	return name[len(name)-seqLen:]
}

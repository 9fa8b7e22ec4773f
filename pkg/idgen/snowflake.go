package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 雪花算法 ID 生成器
// ============================================================================
//
// 票号、流水号、抽奖 ID 都要求全局唯一且趋势递增（便于索引），
// 多实例部署时每个实例必须使用不同的 nodeID（0-1023）。
//
// ============================================================================

var (
	node *snowflake.Node
	mu   sync.Mutex
)

func init() {
	// 2024-01-01 00:00:00 UTC
	snowflake.Epoch = 1704067200000
}

// Init 初始化默认ID生成器
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("nodeID 必须在 0-1023 之间: %w", err)
	}
	node = n
	return nil
}

// NextID 生成下一个ID
func NextID() snowflake.ID {
	mu.Lock()
	if node == nil {
		node, _ = snowflake.NewNode(1) // 默认使用 nodeID = 1
	}
	n := node
	mu.Unlock()
	return n.Generate()
}

// GenerateTicketID 生成票ID
func GenerateTicketID() string {
	return "TK" + NextID().Base36()
}

// GenerateRaffleID 生成抽奖ID
func GenerateRaffleID() string {
	return "RF" + NextID().Base36()
}

// GenerateTransactionNo 生成流水号
// 格式：TXN + 年月日 + 雪花ID
func GenerateTransactionNo() string {
	return fmt.Sprintf("TXN%s%d", time.Now().Format("20060102"), NextID().Int64())
}

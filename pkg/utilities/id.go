package utilities

import (
	"os"
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// snowflakeNode returns the process-wide node. A node owns the per-millisecond
// sequence, so creating one per call would hand out duplicate ids.
func snowflakeNode() *snowflake.Node {
	nodeOnce.Do(func() {
		nodeID := int64(1)
		if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE"), 10, 64); err == nil {
			nodeID = v
		}
		n, err := snowflake.NewNode(nodeID)
		if err != nil {
			// out-of-range node id: default to node 1 instead of failing startup
			n, _ = snowflake.NewNode(1)
		}
		node = n
	})
	return node
}

// NewSnowflakeID generates a snowflake ID string using a node ID from
// the environment variable SNOWFLAKE_NODE (default 1).
func NewSnowflakeID() string {
	return snowflakeNode().Generate().String()
}

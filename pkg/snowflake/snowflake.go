package snowflake

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/railzwaylabs/stockflow/internal/config"
)

var Module = fx.Module("snowflake",
	fx.Provide(
		NewNode,
		func(n *Node) Generator { return n },
	),
)

// Generator hands out unique row identifiers.
type Generator interface {
	GenerateID() int64
}

// Node wraps snowflake.Node to abstract dependency
type Node struct {
	*snowflake.Node
}

// NewNode builds a node from SNOWFLAKE_NODE_ID. Every running instance needs its own id.
func NewNode(cfg *config.Config) (*Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNodeID, err)
	}
	return &Node{node}, nil
}

// GenerateID returns a new snowflake ID as int64
func (n *Node) GenerateID() int64 {
	return n.Generate().Int64()
}

// ParseID parses a string ID into an int64
func ParseID(id string) (int64, error) {
	nid, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, err
	}
	return nid, nil
}

package gen

import (
	"misp-controlplane/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("snowflake",
	fx.Provide(ProvideSnowflakeNode),
)

type SnowflakeNode struct {
	node *snowflake.Node
}

func NewSnowflakeNode(nodeID int64) (*SnowflakeNode, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}
	return &SnowflakeNode{node: node}, nil
}

// ProvideSnowflakeNode builds the node from MISP.NODE_ID. Each replica needs its own id.
func ProvideSnowflakeNode(cfg *config.Config) (*SnowflakeNode, error) {
	node, err := NewSnowflakeNode(cfg.Misp.NodeID)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node_id", cfg.Misp.NodeID), zap.Error(err))
		return nil, err
	}
	return node, nil
}

func (s *SnowflakeNode) GenerateID() snowflake.ID {
	return s.node.Generate()
}

package sequence

import (
	"context"

	"misp-controlplane/pkg/gen"
)

// NodeGenerator issues snowflake ids for accounts and random keys for licenses.
type NodeGenerator struct {
	node   *gen.SnowflakeNode
	format KeyFormat
}

func NewNodeGenerator(node *gen.SnowflakeNode, format KeyFormat) *NodeGenerator {
	return &NodeGenerator{node: node, format: format}
}

func (g *NodeGenerator) Next(ctx context.Context, kind Kind) (string, error) {
	switch kind {
	case KindMisp:
		return g.node.GenerateID().String(), nil
	case KindLicenseKey:
		return g.format.Random()
	default:
		return "", unknownKind(kind)
	}
}

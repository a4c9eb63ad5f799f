package gen

import (
	"testing"

	"misp-controlplane/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestSnowflakeNodeUnique(t *testing.T) {
	node, err := NewSnowflakeNode(1)
	require.NoError(t, err)

	seen := make(map[int64]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := node.GenerateID().Int64()
		_, dup := seen[id]
		require.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestProvideSnowflakeNodeRejectsOutOfRange(t *testing.T) {
	cfg := &config.Config{}
	cfg.Misp.NodeID = 4096

	_, err := ProvideSnowflakeNode(cfg)
	require.Error(t, err)
}

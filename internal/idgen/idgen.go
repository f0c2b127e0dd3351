// Package idgen is the Identifier Service: a monotonic, unique 64-bit ID
// generator used for execution, event, and queue IDs.
package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator wraps a snowflake.Node. The app builds one Generator and shares
// its Next across execution, event, queue and runtime IDs; snowflake IDs
// from a single node never repeat, so those ID spaces never collide.
type Generator struct {
	node *snowflake.Node
}

// New builds a Generator for the given node ID (0-1023). Node IDs must be
// distinct across server replicas to preserve global uniqueness; callers
// typically derive one from a replica ordinal or hash of hostname.
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("idgen: new node %d: %w", nodeID, err)
	}
	return &Generator{node: node}, nil
}

// Next mints the next monotonic ID.
func (g *Generator) Next() int64 {
	return int64(g.node.Generate())
}

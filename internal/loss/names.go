package loss

import (
	"fmt"
	"sync/atomic"

	"gorgonia.org/gorgonia"
)

var nodeSeq uint64

// uniqueName avoids gorgonia merging distinct input nodes that share a name.
func uniqueName(prefix string) string {
	return fmt.Sprintf("loss_%s_%d", prefix, atomic.AddUint64(&nodeSeq, 1))
}

func scalar(g *gorgonia.ExprGraph, prefix string, v float32) *gorgonia.Node {
	return gorgonia.NodeFromAny(g, v, gorgonia.WithName(uniqueName(prefix)))
}

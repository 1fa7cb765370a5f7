// Package linearize turns variable-shaped plan trees into fixed-size
// attribute and order tensors for a tree-convolution model.
package linearize

import (
	"github.com/M2oDA-Lab/roq/pkg/errors"
	"github.com/M2oDA-Lab/roq/pkg/models"
)

// Transformer extracts the feature vector of a single plan node.
type Transformer func(node *models.PlanNode) []float32

// NodeAttrs is the default transformer; it uses the node's own attributes.
func NodeAttrs(node *models.PlanNode) []float32 {
	return node.Attrs
}

// Prepared holds one linearization per submitted tree, in submission order.
type Prepared struct {
	// Attrs[i] is features × slots; slot 0 is the zero vector.
	Attrs [][][]float32
	// Orders[i] is the flattened [self, left, right] triple list.
	Orders [][]int64
}

// Len returns the number of linearized trees.
func (p *Prepared) Len() int {
	return len(p.Attrs)
}

// Linearizer prepares a batch of plan trees.
type Linearizer interface {
	Prepare(trees []*models.PlanNode) (*Prepared, error)
}

// TreeConv linearizes trees in preorder over their binary view: the first
// child is the left child, the second child the right one. Outputs are padded
// to the largest tree of the batch.
type TreeConv struct {
	transform Transformer
}

// NewTreeConv creates a tree-convolution linearizer. A nil transformer
// selects NodeAttrs.
func NewTreeConv(transform Transformer) *TreeConv {
	if transform == nil {
		transform = NodeAttrs
	}
	return &TreeConv{transform: transform}
}

// Prepare implements Linearizer.
func (l *TreeConv) Prepare(trees []*models.PlanNode) (*Prepared, error) {
	out := &Prepared{
		Attrs:  make([][][]float32, len(trees)),
		Orders: make([][]int64, len(trees)),
	}
	if len(trees) == 0 {
		return out, nil
	}

	flats := make([][][]float32, len(trees))
	width := -1
	maxSlots := 0
	maxOrder := 0

	for i, tree := range trees {
		if tree == nil {
			return nil, errors.Newf(errors.CodeLinearize, "plan tree %d is empty", i)
		}

		var nodes []*models.PlanNode
		preorder(tree, &nodes)

		flat := make([][]float32, 0, len(nodes)+1)
		flat = append(flat, nil) // zero slot, filled once the width is known
		for _, n := range nodes {
			feats := l.transform(n)
			if width < 0 {
				width = len(feats)
			}
			if len(feats) != width {
				return nil, errors.Newf(errors.CodeLinearize,
					"plan tree %d: node %q has %d features, expected %d", i, n.Operator, len(feats), width)
			}
			flat = append(flat, feats)
		}
		flats[i] = flat
		out.Orders[i] = convIndexes(nodes)

		if len(flat) > maxSlots {
			maxSlots = len(flat)
		}
		if len(out.Orders[i]) > maxOrder {
			maxOrder = len(out.Orders[i])
		}
	}

	for i, flat := range flats {
		attrs := make([][]float32, width)
		for f := 0; f < width; f++ {
			attrs[f] = make([]float32, maxSlots)
			for slot := 1; slot < len(flat); slot++ {
				attrs[f][slot] = flat[slot][f]
			}
		}
		out.Attrs[i] = attrs

		if pad := maxOrder - len(out.Orders[i]); pad > 0 {
			out.Orders[i] = append(out.Orders[i], make([]int64, pad)...)
		}
	}

	return out, nil
}

func left(n *models.PlanNode) *models.PlanNode {
	if len(n.Children) > 0 {
		return n.Children[0]
	}
	return nil
}

func right(n *models.PlanNode) *models.PlanNode {
	if len(n.Children) > 1 {
		return n.Children[1]
	}
	return nil
}

func preorder(n *models.PlanNode, acc *[]*models.PlanNode) {
	if n == nil {
		return
	}
	*acc = append(*acc, n)
	preorder(left(n), acc)
	preorder(right(n), acc)
}

// convIndexes emits one [self, left, right] triple per node in preorder.
// Slot numbers start at 1; 0 marks a missing child.
func convIndexes(nodes []*models.PlanNode) []int64 {
	slot := make(map[*models.PlanNode]int64, len(nodes))
	for i, n := range nodes {
		slot[n] = int64(i + 1)
	}

	out := make([]int64, 0, 3*len(nodes))
	for _, n := range nodes {
		out = append(out, slot[n], slot[left(n)], slot[right(n)])
	}
	return out
}

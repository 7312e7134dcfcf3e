// Package distop specifies the MacauMPIPrior's distributed block-CG
// contract by interface only, per spec §9: "MPI fan-out in MacauMPIPrior
// is specified only by contract... an opaque DistributedOperator trait
// with apply_local, gather, and broadcast methods. Implementations may
// use MPI, gRPC, or a single-process shim for tests." Actual MPI
// transport wiring is explicitly out of scope (spec.md §1); only the
// contract and an in-process shim live here.
package distop

import (
	"github.com/smurff-go/smurff/internal/linop"
	"gonum.org/v1/gonum/mat"
)

// DistributedOperator is the contract a rank-distributed side-information
// operator must satisfy, mirroring linop.Operator's row-batched
// AtAMulB kernel but split across ranks by latent-row slice.
type DistributedOperator interface {
	linop.Operator
	Rank() int
	World() int
	// ApplyLocal computes this rank's partial contribution to
	// (KᵀK + reg·I) B restricted to this rank's assigned row slice of B.
	ApplyLocal(reg float64, b *mat.Dense) *mat.Dense
	// Gather combines every rank's partial result into one full matrix,
	// valid on the master rank only.
	Gather(partial *mat.Dense) *mat.Dense
	// Broadcast republishes the master's combined result to every rank
	// before the next CG iteration.
	Broadcast(combined *mat.Dense) *mat.Dense
}

// SplitWork partitions numLatent rows across numNodes workers as evenly
// as the original's split_work_mpi (bpmfutils.h): each worker gets
// floor(numLatent/numNodes) rounded down to a multiple of the work unit
// (2 if the average share is at least 2, else 1), with the remainder
// distributed round-robin one work-unit at a time.
func SplitWork(numLatent, numNodes int) []int {
	work := make([]int, numNodes)
	if numNodes <= 0 {
		return work
	}
	avgWork := float64(numLatent) / float64(numNodes)
	workUnit := 1
	if avgWork >= 2 {
		workUnit = 2
	}
	minWork := workUnit * int(avgWork/float64(workUnit))
	workLeft := numLatent
	for i := range work {
		work[i] = minWork
		workLeft -= minWork
	}
	i := 0
	for workLeft > 0 {
		take := workUnit
		if workLeft < take {
			take = workLeft
		}
		work[i] += take
		workLeft -= take
		i = (i + 1) % numNodes
	}
	return work
}

// Offsets returns the starting row offset of each worker's share, given
// SplitWork's per-worker counts.
func Offsets(work []int) []int {
	offs := make([]int, len(work))
	sum := 0
	for i, w := range work {
		offs[i] = sum
		sum += w
	}
	return offs
}

// InProcessShim is the single-process DistributedOperator implementation
// spec §9 names as acceptable for tests: Gather and Broadcast are
// identity functions since there is only one "rank", and ApplyLocal
// covers the whole matrix.
type InProcessShim struct {
	linop.Operator
	tmp *mat.Dense
}

// NewInProcessShim wraps a plain Operator so it satisfies
// DistributedOperator with world size 1.
func NewInProcessShim(op linop.Operator) *InProcessShim {
	return &InProcessShim{Operator: op}
}

func (s *InProcessShim) Rank() int  { return 0 }
func (s *InProcessShim) World() int { return 1 }

func (s *InProcessShim) ApplyLocal(reg float64, b *mat.Dense) *mat.Dense {
	nrhs, _ := b.Dims()
	if s.tmp == nil {
		s.tmp = mat.NewDense(nrhs, s.Operator.Rows(), nil)
	}
	out := mat.NewDense(nrhs, s.Operator.Cols(), nil)
	linop.AtAMulB(out, s.Operator, reg, b, s.tmp)
	return out
}

func (s *InProcessShim) Gather(partial *mat.Dense) *mat.Dense { return partial }

func (s *InProcessShim) Broadcast(combined *mat.Dense) *mat.Dense { return combined }

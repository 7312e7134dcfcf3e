// Package data supplies the Gaussian sufficient statistics a Prior needs
// to resample one factor column (spec §4.3): a uniform view over an
// observed relation (sparse matrix, dense matrix, or tensor), combined
// with one of three noise models.
package data

import "github.com/smurff-go/smurff/internal/errs"

// Factors is the minimal read access a Relation needs into the current
// Model to compute a cell's prediction and its Hadamard cross-product:
// mode m's column d, without importing the model package (it would
// create an import cycle, since model.Model does not need to know about
// Data at all).
type Factors interface {
	// Col returns factor matrix mode's column idx, length K.
	Col(mode, idx int) []float64
}

// Relation is a read-only sparse view over an nmodes-ary observed
// relation: a matrix when nmodes==2, a tensor otherwise. It stores one
// coordinate tuple and one value per observation, plus a per-(mode,
// index) adjacency list so GetPNM can iterate the cells incident to a
// given column in O(nnz at that column) time — the shape implementations
// (a)/(b)/(c) from spec §4.3 differ only in how this adjacency is built.
type Relation struct {
	nmodes int
	dims   []int
	coords [][]int32 // coords[m] has length nnz; coords[m][i] is the mode-m index of observation i
	vals   []float64

	byMode [][][]int32 // byMode[m][d] = indices i of observations whose coords[m][i] == d

	view     [][]int // view[m][d] = view index of mode m's column d (default: nil => view 0)
	nview    []int   // nview[m], default 1
	viewSize [][]int // viewSize[m][v], default [D_m]
}

// NewRelation builds a Relation from nnz observations, each described by
// an nmodes-length coordinate tuple. coords is observation-major:
// coords[i][m] is the mode-m index of observation i.
func NewRelation(dims []int, coords [][]int32, vals []float64) (*Relation, error) {
	nmodes := len(dims)
	if nmodes == 0 {
		return nil, errs.Newf(errs.Assertion, "data.NewRelation", "relation must have at least one mode")
	}
	if len(coords) != len(vals) {
		return nil, errs.Newf(errs.Assertion, "data.NewRelation", "coords and vals length mismatch: %d vs %d", len(coords), len(vals))
	}
	nnz := len(vals)

	r := &Relation{
		nmodes: nmodes,
		dims:   append([]int(nil), dims...),
		coords: make([][]int32, nmodes),
		vals:   append([]float64(nil), vals...),
		byMode: make([][][]int32, nmodes),
	}
	for m := 0; m < nmodes; m++ {
		r.coords[m] = make([]int32, nnz)
		r.byMode[m] = make([][]int32, dims[m])
	}
	for i, c := range coords {
		if len(c) != nmodes {
			return nil, errs.Newf(errs.Assertion, "data.NewRelation", "observation %d has %d coordinates, want %d", i, len(c), nmodes)
		}
		for m, idx := range c {
			if int(idx) < 0 || int(idx) >= dims[m] {
				return nil, errs.Newf(errs.Assertion, "data.NewRelation", "observation %d mode %d index %d out of range [0,%d)", i, m, idx, dims[m])
			}
			r.coords[m][i] = idx
			r.byMode[m][idx] = append(r.byMode[m][idx], int32(i))
		}
	}

	r.nview = make([]int, nmodes)
	for m := range r.nview {
		r.nview[m] = 1
	}
	return r, nil
}

// NModes returns the number of modes.
func (r *Relation) NModes() int { return r.nmodes }

// Dim returns the size of mode m.
func (r *Relation) Dim(m int) int { return r.dims[m] }

// Nnz returns the number of observed cells.
func (r *Relation) Nnz() int { return len(r.vals) }

// Dims returns the size of every mode, in mode order.
func (r *Relation) Dims() []int { return r.dims }

// Coords returns mode m's coordinate slice: Coords(m)[i] is the mode-m
// index of observation i, parallel to Vals().
func (r *Relation) Coords(m int) []int32 { return r.coords[m] }

// Vals returns the observed value of every cell, parallel to Coords(m)
// for every mode m.
func (r *Relation) Vals() []float64 { return r.vals }

// SetViews installs a per-mode partition of columns into views, used by
// SpikeAndSlab (spec §4.3 "nview/view/view_size"). viewOf[m][d] assigns
// column d of mode m to a view in [0, nviews[m]).
func (r *Relation) SetViews(mode int, viewOf []int, nviews int) {
	if r.view == nil {
		r.view = make([][]int, r.nmodes)
	}
	r.view[mode] = append([]int(nil), viewOf...)
	r.nview[mode] = nviews
	if r.viewSize == nil {
		r.viewSize = make([][]int, r.nmodes)
	}
	sizes := make([]int, nviews)
	for _, v := range viewOf {
		sizes[v]++
	}
	r.viewSize[mode] = sizes
}

// NView returns the number of views mode m is partitioned into (default 1).
func (r *Relation) NView(mode int) int { return r.nview[mode] }

// View returns the view index of column d of mode m (default 0).
func (r *Relation) View(mode, d int) int {
	if r.view == nil || r.view[mode] == nil {
		return 0
	}
	return r.view[mode][d]
}

// ViewSize returns the number of columns of mode m assigned to view v.
func (r *Relation) ViewSize(mode, v int) int {
	if r.viewSize == nil || r.viewSize[mode] == nil {
		return r.dims[mode]
	}
	return r.viewSize[mode][v]
}

// SumSq returns the sum of squared observed values.
func (r *Relation) SumSq() float64 {
	var s float64
	for _, v := range r.vals {
		s += v * v
	}
	return s
}

// MeanRating returns the mean of observed values.
func (r *Relation) MeanRating() float64 {
	if len(r.vals) == 0 {
		return 0
	}
	var s float64
	for _, v := range r.vals {
		s += v
	}
	return s / float64(len(r.vals))
}

// VarTotal returns the (population) variance of observed values.
func (r *Relation) VarTotal() float64 {
	if len(r.vals) == 0 {
		return 0
	}
	mean := r.MeanRating()
	var s float64
	for _, v := range r.vals {
		d := v - mean
		s += d * d
	}
	return s / float64(len(r.vals))
}

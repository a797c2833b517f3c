// Package grid owns the canvas geometry and the coordinate bounds authority.
// Every read and write path resolves coordinates through Locate so bounds
// semantics cannot drift between surfaces.
package grid

import (
	"strconv"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// MaxCells caps the total grid size accepted at creation. The full grid is
// served by bulk reads and must stay loadable in one response.
const MaxCells = 1 << 22

// Coord addresses one cell. The origin is the top-left corner.
type Coord struct {
	X uint32 `json:"x"`
	Y uint32 `json:"y"`
}

// Geometry is the immutable shape of the canvas, fixed at creation.
type Geometry struct {
	Width  uint32
	Height uint32
}

// Validate checks creation-time constraints.
func (g Geometry) Validate() error {
	if g.Width == 0 || g.Height == 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, "grid dimensions must be positive")
	}
	if uint64(g.Width)*uint64(g.Height) > MaxCells {
		return apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"grid exceeds the maximum cell count",
			map[string]string{
				"cells": strconv.FormatUint(uint64(g.Width)*uint64(g.Height), 10),
				"max":   strconv.Itoa(MaxCells),
			})
	}
	return nil
}

// Cells reports the total number of cells.
func (g Geometry) Cells() uint64 {
	return uint64(g.Width) * uint64(g.Height)
}

// Contains reports whether the coordinate is inside the grid.
func (g Geometry) Contains(c Coord) bool {
	return c.X < g.Width && c.Y < g.Height
}

// Locate resolves a coordinate to its row-major index, the canonical cell
// order for storage keys and bulk reads. Out-of-range coordinates fail with
// an out-of-bounds error carrying the offending coordinate.
func (g Geometry) Locate(c Coord) (uint64, error) {
	if !g.Contains(c) {
		return 0, apperrors.WithMetadata(apperrors.CodeOutOfBounds,
			"coordinate outside grid",
			map[string]string{
				"x":      strconv.FormatUint(uint64(c.X), 10),
				"y":      strconv.FormatUint(uint64(c.Y), 10),
				"width":  strconv.FormatUint(uint64(g.Width), 10),
				"height": strconv.FormatUint(uint64(g.Height), 10),
			})
	}
	return uint64(c.Y)*uint64(g.Width) + uint64(c.X), nil
}

// At inverts Locate: the coordinate stored at a row-major index.
func (g Geometry) At(index uint64) Coord {
	return Coord{
		X: uint32(index % uint64(g.Width)),
		Y: uint32(index / uint64(g.Width)),
	}
}

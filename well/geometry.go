package well

import (
	"errors"
	"fmt"
	"math"

	"github.com/notargets/wellsim/grid"
	"github.com/notargets/wellsim/logger"
	"github.com/notargets/wellsim/schedule"
)

var (
	ErrDirection       = errors.New("unknown perforation direction")
	ErrCellNotFound    = errors.New("completion cell not found in grid")
	ErrCompletionState = errors.New("unsupported completion state")
)

// defaultRadius is used when a completion has no diameter: 0.5 ft
const defaultRadius = 0.5 * 0.3048

// ComputePerfGeometry derives the perforations of a well from its open
// completions: compressed cell, depth, representative radius, perforation
// length and bore diameter. Shut completions are skipped.
func ComputePerfGeometry(g grid.Grid, w *schedule.Well, cartToComp map[int]int, notices *logger.Notices) ([]Perforation, error) {
	dims := g.CartDims()
	var perfs []Perforation
	for _, c := range w.Completions {
		switch c.State {
		case schedule.CompletionShut:
			continue
		case schedule.CompletionOpen:
		default:
			return nil, fmt.Errorf("%w: well %s completion (%d,%d,%d) is %q", ErrCompletionState, w.Name, c.I, c.J, c.K, c.State)
		}

		cart := grid.CartesianIndex(dims, c.I, c.J, c.K)
		cell, ok := cartToComp[cart]
		if !ok {
			return nil, fmt.Errorf("%w: well %s cell (%d,%d,%d)", ErrCellNotFound, w.Name, c.I, c.J, c.K)
		}

		radius := 0.5 * c.Diameter
		if radius <= 0 {
			radius = defaultRadius
			notices.Warn(logger.TagDefaultWellRadius, "completion has no diameter, using 0.5 ft radius",
				"well", w.Name, "i", c.I, "j", c.J, "k", c.K)
		}

		cube := grid.CubeDims(g, cell)
		var a, b, length float64
		switch c.Direction {
		case schedule.DirX:
			a, b, length = cube[1], cube[2], cube[0]
		case schedule.DirY:
			a, b, length = cube[0], cube[2], cube[1]
		case schedule.DirZ:
			a, b, length = cube[0], cube[1], cube[2]
		default:
			return nil, fmt.Errorf("%w: well %s direction %q", ErrDirection, w.Name, c.Direction)
		}
		re := math.Sqrt(a * b / math.Pi)

		perfs = append(perfs, Perforation{
			Cell:         cell,
			TransFactor:  c.TransFactor,
			Depth:        g.CellCenterDepth(cell),
			RepRadius:    math.Sqrt(re * radius),
			Length:       length,
			BoreDiameter: 2 * radius,
		})
	}
	return perfs, nil
}

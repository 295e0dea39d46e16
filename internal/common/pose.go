package common

import "math"

// Pose is a camera-to-world matrix with 3 rows and 4 columns (rotation | translation),
// in the convention expected by the renderer's camera matrix setter.
type Pose [3][4]float64

// Translation returns the last column of the pose.
func (p Pose) Translation() [3]float64 {
	return [3]float64{p[0][3], p[1][3], p[2][3]}
}

// Equal reports whether two poses match element-wise within eps.
func (p Pose) Equal(o Pose, eps float64) bool {
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			if math.Abs(p[r][c]-o[r][c]) > eps {
				return false
			}
		}
	}
	return true
}

// Rows returns the pose as nested slices, the shape used on the wire.
func (p Pose) Rows() [][]float64 {
	rows := make([][]float64, 3)
	for r := range rows {
		rows[r] = []float64{p[r][0], p[r][1], p[r][2], p[r][3]}
	}
	return rows
}

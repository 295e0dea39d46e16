// This file contains the Manifest and Frame structs, parsing and validation, and the derivation of camera
// poses and field of view.
//
// json tags follow the manifest file format. validate tags are enforced with go-playground/validator after
// decoding; a manifest that fails them is a config error and stops the run before any rendering.

package transforms

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/tailscale/hujson"
	"gonum.org/v1/gonum/mat"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
)

var (
	// ErrMalformedManifest is returned when the manifest cannot be decoded or misses required fields.
	ErrMalformedManifest = fmt.Errorf("%w: malformed manifest", common.ErrConfig)
	// ErrManifestNotFound is returned when the manifest file does not exist.
	ErrManifestNotFound = fmt.Errorf("%w: manifest not found", common.ErrIO)
	// ErrFrameIndexOutOfRange is returned when a requested frame index is not in the manifest.
	ErrFrameIndexOutOfRange = fmt.Errorf("%w: frame index out of range", common.ErrConfig)
)

// FOVAxis is the axis camera_angle_x applies to (0 = horizontal).
const FOVAxis = 0

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("poseMatrix", validatePoseMatrix)
	return v
}

// validatePoseMatrix accepts 3x4 and 4x4 matrices.
func validatePoseMatrix(fl validator.FieldLevel) bool {
	m, ok := fl.Field().Interface().([][]float64)
	if !ok || (len(m) != 3 && len(m) != 4) {
		return false
	}
	for _, row := range m {
		if len(row) != 4 {
			return false
		}
	}
	return true
}

// Frame is one posed image of the manifest.
type Frame struct {
	FilePath        string      `json:"file_path" validate:"required"`
	TransformMatrix [][]float64 `json:"transform_matrix" validate:"required,poseMatrix"`
}

// Pixels is an image dimension. Manifests written by COLMAP converters store them as floats
// ("w": 800.0); fractional values are truncated.
type Pixels int

func (p *Pixels) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return fmt.Errorf("dimension %s out of range", data)
	}
	*p = Pixels(f)
	return nil
}

// Manifest is a parsed transforms file.
type Manifest struct {
	CameraAngleX *float64 `json:"camera_angle_x" validate:"required,gt=0"`
	W            Pixels   `json:"w,omitempty" validate:"gte=0"`
	H            Pixels   `json:"h,omitempty" validate:"gte=0"`
	Frames       []Frame  `json:"frames" validate:"required,min=1,dive"`

	// Path is the file the manifest was read from; relative frame paths resolve against its directory.
	Path string `json:"-"`
}

// Parse reads and validates a manifest file.
func Parse(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrManifestNotFound, path)
		}
		return nil, fmt.Errorf("%w: failed to read %s: %v", common.ErrIO, path, err)
	}

	m, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}

// Decode parses and validates manifest bytes.
func Decode(data []byte) (*Manifest, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}

	var m Manifest
	if err := json.Unmarshal(std, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	return &m, nil
}

// Dir is the directory relative frame paths resolve against.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

// FOVDegrees converts camera_angle_x (radians) to degrees.
func (m *Manifest) FOVDegrees() float64 {
	return *m.CameraAngleX * 180 / math.Pi
}

// Frame returns the frame at index i.
func (m *Manifest) Frame(i int) (Frame, error) {
	if i < 0 || i >= len(m.Frames) {
		return Frame{}, fmt.Errorf("%w: %d not in [0, %d)", ErrFrameIndexOutOfRange, i, len(m.Frames))
	}
	return m.Frames[i], nil
}

// PoseForFrame returns the top 3x4 block of the frame's transform; a homogeneous 4th row is dropped.
func PoseForFrame(f Frame) (common.Pose, error) {
	rows := len(f.TransformMatrix)
	if rows != 3 && rows != 4 {
		return common.Pose{}, fmt.Errorf("%w: transform_matrix has %d rows", ErrMalformedManifest, rows)
	}
	data := make([]float64, 0, rows*4)
	for _, row := range f.TransformMatrix {
		if len(row) != 4 {
			return common.Pose{}, fmt.Errorf("%w: transform_matrix row has %d columns", ErrMalformedManifest, len(row))
		}
		data = append(data, row...)
	}

	top := mat.NewDense(rows, 4, data).Slice(0, 3, 0, 4)
	var pose common.Pose
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			pose[r][c] = top.At(r, c)
		}
	}
	return pose, nil
}

// This file contains the Scene struct and the Registry of named scenes, along with the checks for valid modes.
//
// The registry file maps each mode to its named scenes. It is read as JSON with comments and trailing commas:
//
//	{
//		"nerf": {"fox": {"data_dir": "data/nerf", "dataset": "fox"}},
//		"sdf":  {"armadillo": {"data_dir": "data/sdf", "dataset": "armadillo.obj", "network": "small"}},
//	}
//
// Scenes are persisted alongside evaluation records, so bson tags follow the json names.

package scene

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/tailscale/hujson"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
)

var (
	// ErrUnknownScene is returned when a scene name is not in the registry.
	ErrUnknownScene = fmt.Errorf("%w: unknown scene", common.ErrConfig)
	// ErrInvalidMode is returned for a mode that is not one of ValidModes.
	ErrInvalidMode = fmt.Errorf("%w: invalid mode", common.ErrConfig)
	// ErrMalformedRegistry is returned when the registry file cannot be decoded.
	ErrMalformedRegistry = fmt.Errorf("%w: malformed scene registry", common.ErrConfig)
)

// Constants for valid modes
const (
	ModeNeRF   = "nerf"
	ModeSDF    = "sdf"
	ModeImage  = "image"
	ModeVolume = "volume"
)

// DefaultNetwork is the network config stem used when a scene names none.
const DefaultNetwork = "base"

// ValidModes lists the modes in the order scene names are looked up.
var ValidModes = []string{ModeSDF, ModeNeRF, ModeImage, ModeVolume}

// IsValidMode checks if the given mode is valid
func IsValidMode(mode string) bool {
	for _, validMode := range ValidModes {
		if mode == validMode {
			return true
		}
	}
	return false
}

// Scene is a named dataset with its default network config.
type Scene struct {
	Name    string `json:"-" bson:"name"`
	Mode    string `json:"-" bson:"mode"`
	DataDir string `json:"data_dir" bson:"data_dir" validate:"required"`
	Dataset string `json:"dataset" bson:"dataset" validate:"required"`
	Network string `json:"network,omitempty" bson:"network,omitempty"`
}

// TrainingDataPath joins the data directory and dataset.
func (s Scene) TrainingDataPath() string {
	return filepath.Join(s.DataDir, s.Dataset)
}

// NetworkName returns the scene's network config stem, DefaultNetwork if unset.
func (s Scene) NetworkName() string {
	if s.Network == "" {
		return DefaultNetwork
	}
	return s.Network
}

// Registry holds the named scenes of every mode.
type Registry struct {
	scenes map[string]map[string]Scene
}

var validate = validator.New()

// LoadRegistry reads a registry file. An empty path yields an empty registry.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return &Registry{scenes: map[string]map[string]Scene{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read scene registry %s: %v", common.ErrIO, path, err)
	}
	r, err := DecodeRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// DecodeRegistry parses registry JSON, allowing comments and trailing commas.
func DecodeRegistry(data []byte) (*Registry, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRegistry, err)
	}
	var raw map[string]map[string]Scene
	if err := json.Unmarshal(std, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRegistry, err)
	}

	r := &Registry{scenes: make(map[string]map[string]Scene, len(raw))}
	for mode, scenes := range raw {
		if !IsValidMode(mode) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
		}
		r.scenes[mode] = make(map[string]Scene, len(scenes))
		for name, s := range scenes {
			if err := validate.Struct(s); err != nil {
				var verrs validator.ValidationErrors
				if errors.As(err, &verrs) {
					return nil, fmt.Errorf("%w: scene %q: %v", ErrMalformedRegistry, name, verrs)
				}
				return nil, err
			}
			s.Name, s.Mode = name, mode
			r.scenes[mode][name] = s
		}
	}
	return r, nil
}

// Lookup finds a scene by name across modes, in ValidModes order.
func (r *Registry) Lookup(name string) (Scene, bool) {
	for _, mode := range ValidModes {
		if s, ok := r.scenes[mode][name]; ok {
			return s, true
		}
	}
	return Scene{}, false
}

// InMode finds a scene by name within one mode.
func (r *Registry) InMode(mode, name string) (Scene, bool) {
	s, ok := r.scenes[mode][name]
	return s, ok
}

// InferMode returns the mode of a registered scene.
func (r *Registry) InferMode(name string) (string, error) {
	s, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q; pass a valid mode or scene", ErrUnknownScene, name)
	}
	return s.Mode, nil
}

// Len counts registered scenes.
func (r *Registry) Len() int {
	n := 0
	for _, scenes := range r.scenes {
		n += len(scenes)
	}
	return n
}

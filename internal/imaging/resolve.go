package imaging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
)

// ErrReferenceImageNotFound is returned when no candidate reference image exists on disk.
var ErrReferenceImageNotFound = fmt.Errorf("%w: reference image not found", common.ErrIO)

// DefaultReferenceExtensions is the lookup order for manifest paths without a usable extension.
var DefaultReferenceExtensions = []string{".png", ".jpg", ".jpeg", ".exr"}

// ResolveReferencePath locates the reference image for a manifest file_path relative to dir.
//
// A path that already names an existing file wins. Otherwise "<path><ext>" is tried for each
// extension in order and the first existing file is returned.
func ResolveReferencePath(dir, filePath string, exts []string) (string, error) {
	base := filePath
	if !filepath.IsAbs(base) {
		base = filepath.Join(dir, filePath)
	}

	if filepath.Ext(base) != "" && isFile(base) {
		return base, nil
	}

	tried := make([]string, 0, len(exts)+1)
	tried = append(tried, base)
	for _, ext := range exts {
		candidate := base + ext
		if isFile(candidate) {
			return candidate, nil
		}
		tried = append(tried, candidate)
	}
	return "", fmt.Errorf("%w: tried %v", ErrReferenceImageNotFound, tried)
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

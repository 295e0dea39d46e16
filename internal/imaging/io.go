// This file contains image loading and saving. Formats are selected by file extension.
//
// Integer formats (PNG, JPEG, TIFF, BMP) are stored sRGB-encoded with straight alpha: loading decodes them to
// linear and premultiplies, saving reverses both steps. EXR stores linear premultiplied floats and is passed
// through untouched.

package imaging

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
)

var (
	// ErrUnsupportedFormat is returned for file extensions without a codec.
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported image format", common.ErrIO)
	// ErrNotFound is returned when the image file does not exist.
	ErrNotFound = fmt.Errorf("%w: image not found", common.ErrIO)
)

// JPEGQuality is the quality used when saving JPEG files.
const JPEGQuality = 95

type codec struct {
	decode func(io.Reader) (*ImageBuffer, error)
	encode func(io.Writer, *ImageBuffer) error
}

var codecs = map[string]codec{
	".png": {
		decode: decodeWith(png.Decode),
		encode: func(w io.Writer, b *ImageBuffer) error { return png.Encode(w, toNRGBA(b, true)) },
	},
	".jpg":  jpegCodec,
	".jpeg": jpegCodec,
	".tif":  tiffCodec,
	".tiff": tiffCodec,
	".bmp": {
		decode: decodeWith(bmp.Decode),
		encode: func(w io.Writer, b *ImageBuffer) error { return bmp.Encode(w, toNRGBA(b, true)) },
	},
	".exr": {
		decode: DecodeEXR,
		encode: func(w io.Writer, b *ImageBuffer) error { return EncodeEXR(w, b, PixelFloat) },
	},
}

var jpegCodec = codec{
	decode: decodeWith(jpeg.Decode),
	encode: func(w io.Writer, b *ImageBuffer) error {
		return jpeg.Encode(w, toNRGBA(b, false), &jpeg.Options{Quality: JPEGQuality})
	},
}

var tiffCodec = codec{
	decode: decodeWith(tiff.Decode),
	encode: func(w io.Writer, b *ImageBuffer) error {
		return tiff.Encode(w, toNRGBA(b, true), &tiff.Options{Compression: tiff.Deflate})
	},
}

// SupportedExtension reports whether path has an extension with a registered codec.
func SupportedExtension(path string) bool {
	_, ok := codecs[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Load reads an image file into a linear, premultiplied buffer.
func Load(path string) (*ImageBuffer, error) {
	c, ok := codecs[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("%w: failed to open %s: %v", common.ErrIO, path, err)
	}
	defer f.Close()

	img, err := c.decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s: %v", common.ErrIO, path, err)
	}
	return img, nil
}

// Save writes a linear buffer to path, creating parent directories and overwriting existing files.
func Save(path string, img *ImageBuffer) error {
	c, ok := codecs[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, path)
	}
	if img.Space != Linear {
		return fmt.Errorf("%w: save needs %s, buffer is %s", ErrColorSpaceMismatch, Linear, img.Space)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return fmt.Errorf("%w: failed to create directory %s: %v", common.ErrIO, dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: failed to create %s: %v", common.ErrIO, path, err)
	}
	if err := c.encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("%w: failed to encode %s: %v", common.ErrIO, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: failed to close %s: %v", common.ErrIO, path, err)
	}
	return nil
}

func decodeWith(decode func(io.Reader) (image.Image, error)) func(io.Reader) (*ImageBuffer, error) {
	return func(r io.Reader) (*ImageBuffer, error) {
		img, err := decode(r)
		if err != nil {
			return nil, err
		}
		return FromImage(img), nil
	}
}

// FromImage converts a decoded sRGB image to a linear premultiplied buffer. Sources without alpha
// come out opaque.
func FromImage(src image.Image) *ImageBuffer {
	bounds := src.Bounds()
	out := New(bounds.Dx(), bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
			a := float64(c.A) / 0xffff
			i := out.Offset(x-bounds.Min.X, y-bounds.Min.Y)
			out.Pix[i] = float32(SRGBToLinear(float64(c.R)/0xffff) * a)
			out.Pix[i+1] = float32(SRGBToLinear(float64(c.G)/0xffff) * a)
			out.Pix[i+2] = float32(SRGBToLinear(float64(c.B)/0xffff) * a)
			out.Pix[i+3] = float32(a)
		}
	}
	return out
}

// toNRGBA unpremultiplies, sRGB-encodes and quantises to 8 bits. With keepAlpha false the
// result is opaque.
func toNRGBA(b *ImageBuffer, keepAlpha bool) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, b.Width, b.Height))
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			px := b.At(x, y)
			a := float64(px[3])
			var r, g, bl float64
			if a != 0 {
				r = float64(px[0]) / a
				g = float64(px[1]) / a
				bl = float64(px[2]) / a
			}
			if !keepAlpha {
				a = 1
			}
			out.SetNRGBA(x, y, color.NRGBA{
				R: quantize(LinearToSRGB(r)),
				G: quantize(LinearToSRGB(g)),
				B: quantize(LinearToSRGB(bl)),
				A: quantize(a),
			})
		}
	}
	return out
}

func quantize(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}

// Package imaging contains the float RGBA ImageBuffer, the sRGB transfer functions and compositing used by
// evaluation, and the image codecs (PNG, JPEG, TIFF, BMP, EXR) with reference-path resolution.
//
// Buffers are linear and premultiplied unless their Space says otherwise. Conversions that depend on the
// colour space check it, so the evaluation's "composite reference in linear, render in sRGB" ordering cannot
// be mixed up silently.
package imaging

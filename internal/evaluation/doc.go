// Package evaluation renders every frame of a test manifest and scores it against the reference images.
//
// References are composited onto white in linear space; renders are composited in sRGB and brought back to
// linear. Both are sRGB-encoded again for scoring. The first frame's reference, render and difference images
// are written for inspection.
package evaluation

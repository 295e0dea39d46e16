// Package transforms contains the transforms manifest (a NeRF-style transforms.json): the horizontal field of
// view, the optional resolution, and the posed frames used for evaluation and screenshots.
// Manifests may carry comments and trailing commas; they are standardised before decoding.
package transforms

// Package metrics contains the image-quality metrics used by evaluation: MSE over RGB, its PSNR mapping,
// an optional windowed SSIM, and the ErrorAccumulator that turns per-frame results into a run summary.
//
// SSIM is off by default. When off, frames report an SSIM of 0 and the summary says so through
// Summary.SSIMComputed, so downstream consumers can tell a disabled metric from a bad score.
package metrics

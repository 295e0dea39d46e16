// Package evaluation contains the implementation of interacting with the MongoDB evaluations collection.
// The EvaluationManager stores one Evaluation per run with its per-frame metrics and summary, and lists past runs
// of a scene so quality can be tracked across snapshots.
package evaluation

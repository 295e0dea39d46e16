// This file contains the EvaluationManager implementation, which is responsible for interacting with the MongoDB
// evaluations collection. Records are keyed by run ID, which is generated per harness invocation, so re-running an
// evaluation inside the same invocation replaces the earlier record.

package evaluation

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
)

var (
	// ErrEvaluationNotFound is returned when a requested evaluation is not found in the database.
	ErrEvaluationNotFound = errors.New("evaluation not found")
	// ErrMissingRunID is returned when an evaluation without a run ID is stored.
	ErrMissingRunID = errors.New("evaluation has no run id")
)

// Store is the persistence surface used by the harness. EvaluationManager implements it with MongoDB.
type Store interface {
	SetEvaluation(ctx context.Context, e *Evaluation) error
}

// History is the read side of the evaluations collection.
type History interface {
	GetEvaluation(ctx context.Context, runID string) (*Evaluation, error)
	ListForScene(ctx context.Context, sceneName string, limit int64) ([]*Evaluation, error)
}

type EvaluationManager struct {
	collection *mongo.Collection
	logger     *log.Logger
}

// NewEvaluationManager creates a new instance of EvaluationManager on nerfdb.evaluations.
func NewEvaluationManager(client *mongo.Client, logger *log.Logger) *EvaluationManager {
	db := client.Database("nerfdb")
	return &EvaluationManager{
		collection: db.Collection("evaluations"),
		logger:     logger,
	}
}

// SetEvaluation updates or inserts an evaluation document keyed by its run ID.
func (em *EvaluationManager) SetEvaluation(ctx context.Context, e *Evaluation) error {
	if e.RunID == "" {
		return ErrMissingRunID
	}
	_, err := em.collection.UpdateOne(
		ctx,
		bson.M{"run_id": e.RunID},
		bson.M{"$set": e},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to store evaluation %s: %v", e.RunID, err)
	}
	em.logger.Infow("evaluation stored", "run_id", e.RunID, "scene", e.Scene, "mean_psnr", e.Summary.MeanPSNR)
	return nil
}

// GetEvaluation retrieves the evaluation of a run.
func (em *EvaluationManager) GetEvaluation(ctx context.Context, runID string) (*Evaluation, error) {
	var e Evaluation
	err := em.collection.FindOne(ctx, bson.M{"run_id": runID}).Decode(&e)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrEvaluationNotFound
		}
		return nil, err
	}
	return &e, nil
}

// ListForScene returns the evaluations of a scene, newest first, at most limit records (all when limit <= 0).
func (em *EvaluationManager) ListForScene(ctx context.Context, sceneName string, limit int64) ([]*Evaluation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := em.collection.Find(ctx, bson.M{"scene": sceneName}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []*Evaluation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

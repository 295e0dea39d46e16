package evaluation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/metrics"
)

const ns = "nerfdb.evaluations"

func TestEvaluationManager(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("set upserts by run id", func(mt *mtest.T) {
		em := NewEvaluationManager(mt.Client, log.NewNop())
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: 1}, bson.E{Key: "nModified", Value: 0}))

		err := em.SetEvaluation(context.Background(), &Evaluation{
			RunID:   "run-1",
			Scene:   "fox",
			Summary: metrics.Summary{Frames: 2, MeanPSNR: 31.5},
		})
		require.NoError(mt, err)

		started := mt.GetStartedEvent()
		require.NotNil(mt, started)
		assert.Equal(mt, "update", started.CommandName)
	})

	mt.Run("set requires run id", func(mt *mtest.T) {
		em := NewEvaluationManager(mt.Client, log.NewNop())
		assert.ErrorIs(mt, em.SetEvaluation(context.Background(), &Evaluation{}), ErrMissingRunID)
	})

	mt.Run("get", func(mt *mtest.T) {
		em := NewEvaluationManager(mt.Client, log.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch, bson.D{
			{Key: "run_id", Value: "run-1"},
			{Key: "scene", Value: "fox"},
			{Key: "summary", Value: bson.D{{Key: "mean_psnr", Value: 31.5}, {Key: "frames", Value: 2}}},
		}))

		e, err := em.GetEvaluation(context.Background(), "run-1")
		require.NoError(mt, err)
		assert.Equal(mt, "fox", e.Scene)
		assert.Equal(mt, 31.5, e.Summary.MeanPSNR)
		assert.Equal(mt, 2, e.Summary.Frames)
	})

	mt.Run("get missing", func(mt *mtest.T) {
		em := NewEvaluationManager(mt.Client, log.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch))

		_, err := em.GetEvaluation(context.Background(), "nope")
		assert.ErrorIs(mt, err, ErrEvaluationNotFound)
	})

	mt.Run("list for scene", func(mt *mtest.T) {
		em := NewEvaluationManager(mt.Client, log.NewNop())
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "run_id", Value: "run-2"}, {Key: "scene", Value: "fox"}},
			bson.D{{Key: "run_id", Value: "run-1"}, {Key: "scene", Value: "fox"}},
		))

		list, err := em.ListForScene(context.Background(), "fox", 10)
		require.NoError(mt, err)
		require.Len(mt, list, 2)
		assert.Equal(mt, "run-2", list[0].RunID)
	})
}

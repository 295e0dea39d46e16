// This file contains the Evaluation record stored for every finished evaluation run. Field names in the database
// follow the bson tags; the same struct is published as JSON on the events queue.

package evaluation

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/metrics"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/snapshot"
)

// Evaluation is one evaluation run of a trained scene against a test manifest.
type Evaluation struct {
	ID          primitive.ObjectID    `bson:"_id,omitempty" json:"id,omitempty"`
	RunID       string                `bson:"run_id" json:"run_id"`
	Scene       string                `bson:"scene" json:"scene"`
	Mode        string                `bson:"mode" json:"mode"`
	Network     string                `bson:"network" json:"network"`
	Snapshot    *snapshot.Handle      `bson:"snapshot,omitempty" json:"snapshot,omitempty"`
	Manifest    string                `bson:"manifest" json:"manifest"`
	SPP         int                   `bson:"spp" json:"spp"`
	TrainSteps  int                   `bson:"train_steps" json:"train_steps"`
	Frames      []metrics.FrameResult `bson:"frames" json:"frames"`
	Summary     metrics.Summary       `bson:"summary" json:"summary"`
	CreatedAt   time.Time             `bson:"created_at" json:"created_at"`
	DebugImages []string              `bson:"debug_images,omitempty" json:"debug_images,omitempty"`
}

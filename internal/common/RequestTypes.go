// This file contains the expected structure of incoming requests to the status server. These structs are used to
// validate incoming requests and to pass data to the appropriate handlers.

package common

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type CommandRequest struct {
	Command string `json:"command" validate:"required,oneof=pause resume stop snapshot status"`
	Path    string `json:"path" validate:"required_if=Command snapshot"`
}

type EvaluationsRequest struct {
	Scene string `query:"scene" validate:"required"`
	Limit int64  `query:"limit" validate:"omitempty,gte=1,lte=100"`
}

type EvaluationRequest struct {
	RunID string `params:"runID" validate:"required,uuid"`
}

package services

import (
	"context"
	"encoding/json"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
)

type recordingCaller struct {
	requests []Request
	reply    func(Request) (Reply, error)
}

func (c *recordingCaller) Call(_ context.Context, req Request) (Reply, error) {
	c.requests = append(c.requests, req)
	if c.reply == nil {
		return Reply{Headers: amqp.Table{"status": StatusOK}}, nil
	}
	return c.reply(req)
}

func valueReply(v any) Reply {
	body, _ := json.Marshal(map[string]any{"value": v})
	return Reply{Headers: amqp.Table{"status": StatusOK}, Body: body}
}

func TestRenderClientEnvelope(t *testing.T) {
	caller := &recordingCaller{}
	client := NewRenderClientWithCaller(caller, log.NewNop())
	ctx := context.Background()

	pose := common.Pose{{1, 0, 0, 0.5}, {0, 1, 0, 0}, {0, 0, 1, 2}}
	require.NoError(t, client.Init(ctx, renderer.ModeNeRF))
	require.NoError(t, client.SetCameraPose(ctx, pose))
	require.NoError(t, client.SaveSnapshot(ctx, "base.ingp", false))

	require.Len(t, caller.requests, 3)
	body, err := json.Marshal(caller.requests[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"init","params":{"mode":"nerf"}}`, string(body))

	body, err = json.Marshal(caller.requests[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"set_camera_pose","params":{"matrix":[[1,0,0,0.5],[0,1,0,0],[0,0,1,2]]}}`, string(body))

	body, err = json.Marshal(caller.requests[2])
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"save_snapshot","params":{"path":"base.ingp","include_optimizer_state":false}}`, string(body))
}

func TestRenderClientScalars(t *testing.T) {
	caller := &recordingCaller{reply: func(r Request) (Reply, error) {
		switch r.Method {
		case "frame":
			return valueReply(true), nil
		case "training_step":
			return valueReply(1234), nil
		case "loss":
			return valueReply(0.0125), nil
		default:
			return valueReply(false), nil
		}
	}}
	client := NewRenderClientWithCaller(caller, log.NewNop())
	ctx := context.Background()

	alive, err := client.Frame(ctx)
	require.NoError(t, err)
	assert.True(t, alive)

	step, err := client.TrainingStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1234, step)

	loss, err := client.Loss(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.0125, loss, 1e-12)

	repl, err := client.WantsREPL(ctx)
	require.NoError(t, err)
	assert.False(t, repl)
}

func TestRenderClientEngineError(t *testing.T) {
	caller := &recordingCaller{reply: func(Request) (Reply, error) {
		return Reply{Headers: amqp.Table{"status": StatusError, "error": "file not found"}}, nil
	}}
	client := NewRenderClientWithCaller(caller, log.NewNop())

	err := client.LoadTrainingData(context.Background(), "data/fox")
	assert.ErrorIs(t, err, common.ErrRenderer)
	assert.Contains(t, err.Error(), "file not found")
}

func TestRenderClientMalformedReply(t *testing.T) {
	caller := &recordingCaller{reply: func(Request) (Reply, error) {
		return Reply{Headers: amqp.Table{"status": StatusOK}, Body: []byte("not json")}, nil
	}}
	client := NewRenderClientWithCaller(caller, log.NewNop())

	_, err := client.TrainingStep(context.Background())
	assert.ErrorIs(t, err, ErrMalformedReply)
	assert.ErrorIs(t, err, common.ErrRenderer)

	caller.reply = func(Request) (Reply, error) { return Reply{}, nil }
	err = client.SetSharpen(context.Background(), 0.5)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestRenderClientRender(t *testing.T) {
	img := imaging.New(2, 1)
	img.Set(0, 0, [4]float32{0.25, 0.5, 0.75, 1})
	img.Set(1, 0, [4]float32{0, 0, 0, 0})

	caller := &recordingCaller{reply: func(Request) (Reply, error) { return EncodeImage(img), nil }}
	client := NewRenderClientWithCaller(caller, log.NewNop())

	out, err := client.Render(context.Background(), 2, 1, 8, true)
	require.NoError(t, err)
	assert.Equal(t, img.Pix, out.Pix)
	assert.Equal(t, imaging.Linear, out.Space)

	require.Len(t, caller.requests, 1)
	body, err := json.Marshal(caller.requests[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"method":"render","params":{"width":2,"height":1,"spp":8,"linear":true}}`, string(body))

	_, err = client.Render(context.Background(), 4, 4, 8, true)
	assert.ErrorIs(t, err, ErrMalformedReply)
}

func TestDecodeImage(t *testing.T) {
	_, err := DecodeImage(Reply{Headers: amqp.Table{"status": StatusOK}})
	assert.ErrorIs(t, err, ErrMalformedReply)

	_, err = DecodeImage(Reply{Headers: amqp.Table{"width": int64(2), "height": int64(2)}, Body: make([]byte, 8)})
	assert.ErrorIs(t, err, ErrMalformedReply)

	img, err := DecodeImage(Reply{Headers: amqp.Table{"width": int64(1), "height": int16(1)}, Body: make([]byte, 16)})
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, img.Pix)
}

func TestRenderClientTransportError(t *testing.T) {
	caller := &recordingCaller{reply: func(Request) (Reply, error) { return Reply{}, ErrConnectionLost }}
	client := NewRenderClientWithCaller(caller, log.NewNop())

	err := client.InitWindow(context.Background(), 960, 540)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, common.ErrRenderer)
}

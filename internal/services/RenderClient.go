// This file contains RenderClient, the renderer.Renderer implementation used in production. The engine runs as a
// worker process next to the broker; every Renderer method becomes one request/reply exchange on the RPC queue.
//
// Requests are JSON envelopes:
//
//	{"method": "set_camera_pose", "params": {"matrix": [[...], [...], [...]]}}
//
// published with a correlation ID and reply-to set to RabbitMQ's direct reply-to pseudo queue. Replies carry a
// "status" header ("ok" or "error") and an "error" header with the engine message. Scalar results come back as
// {"value": ...}; render results carry "width" and "height" headers and a little-endian float32 RGBA body.
//
// One call is in flight at a time. Calls block until the reply arrives or the context is done; nothing is retried.

package services

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/imaging"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
)

const directReplyTo = "amq.rabbitmq.reply-to"

// Reply status values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	// ErrConnectionLost is returned when the reply consumer stops while a call is waiting.
	ErrConnectionLost = fmt.Errorf("%w: broker connection lost", common.ErrRenderer)
	// ErrMalformedReply is returned for replies that cannot be decoded.
	ErrMalformedReply = fmt.Errorf("%w: malformed reply", common.ErrRenderer)
)

// Request is the envelope sent for every call.
type Request struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Reply is what the worker answers.
type Reply struct {
	Headers amqp.Table
	Body    []byte
}

// Caller performs one request/reply exchange.
type Caller interface {
	Call(ctx context.Context, req Request) (Reply, error)
}

// RenderClient implements renderer.Renderer over a Caller.
type RenderClient struct {
	caller Caller
	logger *log.Logger
	mu     sync.Mutex
}

var _ renderer.Renderer = (*RenderClient)(nil)

// NewRenderClient returns a client calling the engine through the broker's RPC queue.
func NewRenderClient(broker *BrokerService, logger *log.Logger) *RenderClient {
	return NewRenderClientWithCaller(&amqpCaller{broker: broker, logger: logger}, logger)
}

// NewRenderClientWithCaller returns a client over an arbitrary transport.
func NewRenderClientWithCaller(caller Caller, logger *log.Logger) *RenderClient {
	return &RenderClient{caller: caller, logger: logger}
}

func (c *RenderClient) call(ctx context.Context, method string, params any) (Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Debugw("renderer call", "method", method)
	reply, err := c.caller.Call(ctx, Request{Method: method, Params: params})
	if err != nil {
		if errors.Is(err, common.ErrRenderer) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Reply{}, err
		}
		return Reply{}, fmt.Errorf("%w: %s: %v", common.ErrRenderer, method, err)
	}
	if err := replyError(method, reply); err != nil {
		return Reply{}, err
	}
	return reply, nil
}

// replyError turns an error status into a renderer failure.
func replyError(method string, r Reply) error {
	status, _ := r.Headers["status"].(string)
	switch status {
	case StatusOK:
		return nil
	case StatusError:
		msg, _ := r.Headers["error"].(string)
		if msg == "" {
			msg = "unspecified engine error"
		}
		return renderer.Failure(method, msg)
	default:
		return fmt.Errorf("%w: %s: status %q", ErrMalformedReply, method, status)
	}
}

func (c *RenderClient) exec(ctx context.Context, method string, params any) error {
	_, err := c.call(ctx, method, params)
	return err
}

func decodeValue[T any](method string, r Reply) (T, error) {
	var out struct {
		Value T `json:"value"`
	}
	if err := json.Unmarshal(r.Body, &out); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %s: %v", ErrMalformedReply, method, err)
	}
	return out.Value, nil
}

func query[T any](ctx context.Context, c *RenderClient, method string) (T, error) {
	r, err := c.call(ctx, method, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeValue[T](method, r)
}

type pathParams struct {
	Path string `json:"path"`
}

type flagParams struct {
	Enabled bool `json:"enabled"`
}

type valueParams struct {
	Value float64 `json:"value"`
}

func (c *RenderClient) Init(ctx context.Context, mode renderer.Mode) error {
	return c.exec(ctx, "init", struct {
		Mode renderer.Mode `json:"mode"`
	}{mode})
}

func (c *RenderClient) LoadTrainingData(ctx context.Context, path string) error {
	return c.exec(ctx, "load_training_data", pathParams{path})
}

func (c *RenderClient) ReloadNetworkFromFile(ctx context.Context, path string) error {
	return c.exec(ctx, "reload_network_from_file", pathParams{path})
}

func (c *RenderClient) LoadSnapshot(ctx context.Context, path string) error {
	return c.exec(ctx, "load_snapshot", pathParams{path})
}

func (c *RenderClient) SaveSnapshot(ctx context.Context, path string, includeOptimizerState bool) error {
	return c.exec(ctx, "save_snapshot", struct {
		Path                  string `json:"path"`
		IncludeOptimizerState bool   `json:"include_optimizer_state"`
	}{path, includeOptimizerState})
}

func (c *RenderClient) SetCameraPose(ctx context.Context, pose common.Pose) error {
	return c.exec(ctx, "set_camera_pose", struct {
		Matrix [][]float64 `json:"matrix"`
	}{pose.Rows()})
}

func (c *RenderClient) SetFOV(ctx context.Context, axis int, degrees float64) error {
	return c.exec(ctx, "set_fov", struct {
		Axis    int     `json:"axis"`
		Degrees float64 `json:"degrees"`
	}{axis, degrees})
}

func (c *RenderClient) SetBackgroundColor(ctx context.Context, rgba [4]float64) error {
	return c.exec(ctx, "set_background_color", struct {
		RGBA [4]float64 `json:"rgba"`
	}{rgba})
}

func (c *RenderClient) SetShallTrain(ctx context.Context, train bool) error {
	return c.exec(ctx, "set_shall_train", flagParams{train})
}

func (c *RenderClient) SetSnapToPixelCenters(ctx context.Context, snap bool) error {
	return c.exec(ctx, "set_snap_to_pixel_centers", flagParams{snap})
}

func (c *RenderClient) SetRenderingMinAlpha(ctx context.Context, alpha float64) error {
	return c.exec(ctx, "set_rendering_min_alpha", valueParams{alpha})
}

func (c *RenderClient) SetCameraDistortion(ctx context.Context, enabled bool) error {
	return c.exec(ctx, "set_render_with_camera_distortion", flagParams{enabled})
}

func (c *RenderClient) SetSharpen(ctx context.Context, amount float64) error {
	return c.exec(ctx, "set_sharpen", valueParams{amount})
}

func (c *RenderClient) SetTonemapCurve(ctx context.Context, curve renderer.TonemapCurve) error {
	return c.exec(ctx, "set_tonemap_curve", struct {
		Curve renderer.TonemapCurve `json:"curve"`
	}{curve})
}

func (c *RenderClient) SetRandomBackground(ctx context.Context, enabled bool) error {
	return c.exec(ctx, "set_random_bg_color", flagParams{enabled})
}

func (c *RenderClient) SetConeAngleConstant(ctx context.Context, angle float64) error {
	return c.exec(ctx, "set_cone_angle_constant", valueParams{angle})
}

func (c *RenderClient) InitWindow(ctx context.Context, width, height int) error {
	return c.exec(ctx, "init_window", struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	}{width, height})
}

func (c *RenderClient) Render(ctx context.Context, width, height, spp int, withAlpha bool) (*imaging.ImageBuffer, error) {
	r, err := c.call(ctx, "render", struct {
		Width  int `json:"width"`
		Height int `json:"height"`
		SPP    int `json:"spp"`
		// The engine names its 4th render argument linear; true asks for the linear RGBA buffer with alpha.
		Linear bool `json:"linear"`
	}{width, height, spp, withAlpha})
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(r)
	if err != nil {
		return nil, err
	}
	if img.Width != width || img.Height != height {
		return nil, fmt.Errorf("%w: render: asked %dx%d, got %dx%d", ErrMalformedReply, width, height, img.Width, img.Height)
	}
	return img, nil
}

func (c *RenderClient) Frame(ctx context.Context) (bool, error) {
	return query[bool](ctx, c, "frame")
}

func (c *RenderClient) TrainingStep(ctx context.Context) (int, error) {
	return query[int](ctx, c, "training_step")
}

func (c *RenderClient) Loss(ctx context.Context) (float64, error) {
	return query[float64](ctx, c, "loss")
}

func (c *RenderClient) WantsREPL(ctx context.Context) (bool, error) {
	return query[bool](ctx, c, "want_repl")
}

// DecodeImage reads a render reply into a linear buffer.
func DecodeImage(r Reply) (*imaging.ImageBuffer, error) {
	w, okW := headerInt(r.Headers["width"])
	h, okH := headerInt(r.Headers["height"])
	if !okW || !okH {
		return nil, fmt.Errorf("%w: render reply without dimensions", ErrMalformedReply)
	}
	n := w * h * imaging.Channels
	if w <= 0 || h <= 0 || len(r.Body) != n*4 {
		return nil, fmt.Errorf("%w: %dx%d render needs %d bytes, got %d", ErrMalformedReply, w, h, n*4, len(r.Body))
	}
	pix := make([]float32, n)
	for i := range pix {
		pix[i] = math.Float32frombits(binary.LittleEndian.Uint32(r.Body[i*4:]))
	}
	return imaging.FromPixels(w, h, pix, imaging.Linear)
}

// EncodeImage is the inverse of DecodeImage, used by workers and tests.
func EncodeImage(img *imaging.ImageBuffer) Reply {
	body := make([]byte, len(img.Pix)*4)
	for i, v := range img.Pix {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(v))
	}
	return Reply{
		Headers: amqp.Table{"status": StatusOK, "width": int32(img.Width), "height": int32(img.Height)},
		Body:    body,
	}
}

func headerInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	default:
		return 0, false
	}
}

// amqpCaller publishes requests to the RPC queue and waits on the direct reply-to consumer.
type amqpCaller struct {
	broker  *BrokerService
	logger  *log.Logger
	channel *amqp.Channel
	replies <-chan amqp.Delivery
}

func (a *amqpCaller) setup() error {
	ch, err := a.broker.Channel()
	if err != nil {
		return err
	}
	replies, err := ch.Consume(directReplyTo, "", true, false, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume replies: %v", err)
	}
	a.channel, a.replies = ch, replies
	return nil
}

func (a *amqpCaller) Call(ctx context.Context, req Request) (Reply, error) {
	if a.channel == nil || a.channel.IsClosed() {
		if err := a.setup(); err != nil {
			return Reply{}, fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("failed to marshal %s request: %v", req.Method, err)
	}
	corrID := uuid.NewString()
	err = a.channel.PublishWithContext(ctx, "", a.broker.RPCQueue(), false, false, amqp.Publishing{
		ContentType:   "application/json",
		CorrelationId: corrID,
		ReplyTo:       directReplyTo,
		Type:          req.Method,
		Body:          body,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("failed to publish %s request: %v", req.Method, err)
	}

	for {
		select {
		case <-ctx.Done():
			return Reply{}, ctx.Err()
		case d, ok := <-a.replies:
			if !ok {
				a.channel = nil
				return Reply{}, ErrConnectionLost
			}
			if d.CorrelationId != corrID {
				a.logger.Debugw("dropping stale reply", "correlation_id", d.CorrelationId)
				continue
			}
			return Reply{Headers: d.Headers, Body: d.Body}, nil
		}
	}
}

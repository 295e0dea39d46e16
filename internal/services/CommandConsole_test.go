package services

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/renderer/renderertest"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/snapshot"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/training"
)

func newConsoleFixture(fake *renderertest.Fake, input string) (*CommandConsole, *training.Controller, *bytes.Buffer) {
	out := &bytes.Buffer{}
	var in io.Reader
	if input != "" {
		in = strings.NewReader(input)
	}
	logger := log.NewNop()
	console := NewCommandConsole(snapshot.NewStore(fake, logger), in, out, logger)
	ctrl := training.NewController(fake, training.Options{}, nil, logger)
	ctrl.AddHook(console.Hook)
	return console, ctrl, out
}

func TestConsoleRemoteStop(t *testing.T) {
	fake := &renderertest.Fake{FrameLimit: 100}
	console, ctrl, _ := newConsoleFixture(fake, "")

	require.NoError(t, console.Enqueue(common.Command{Name: common.CommandStop, Source: "remote"}))
	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, training.ReasonStopped, res.Reason)
	assert.Equal(t, 1, fake.Frames)
}

func TestConsoleRemotePause(t *testing.T) {
	fake := &renderertest.Fake{FrameLimit: 2}
	console, ctrl, _ := newConsoleFixture(fake, "")

	require.NoError(t, console.Enqueue(common.Command{Name: common.CommandPause}))
	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, training.ReasonEngineExit, res.Reason)
	assert.False(t, fake.ShallTrain)
	assert.Equal(t, 2, fake.Called("SetShallTrain"))
}

func TestConsoleREPLSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots", "fox.ingp")
	fake := &renderertest.Fake{FrameLimit: 3, REPL: map[int]bool{2: true}}
	console, ctrl, out := newConsoleFixture(fake, "snapshot "+path+"\n")

	var saved []snapshot.Handle
	console.OnSnapshot = func(_ context.Context, h snapshot.Handle) { saved = append(saved, h) }

	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, training.ReasonEngineExit, res.Reason)
	assert.Equal(t, []string{path}, fake.Snapshots)
	require.Len(t, saved, 1)
	assert.Equal(t, path, saved[0].Path)
	assert.Contains(t, out.String(), "saved "+path)
}

func TestConsoleREPLBadInputKeepsRunning(t *testing.T) {
	fake := &renderertest.Fake{FrameLimit: 3, REPL: map[int]bool{1: true, 2: true, 3: true}}
	_, ctrl, out := newConsoleFixture(fake, "dance\nsnapshot\n")

	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, training.ReasonEngineExit, res.Reason)
	assert.Equal(t, 3, fake.Frames)
	assert.Contains(t, out.String(), "unknown command")
	assert.Contains(t, out.String(), "missing command argument")
}

func TestConsoleStatus(t *testing.T) {
	fake := &renderertest.Fake{FrameLimit: 2, REPL: map[int]bool{2: true}}
	_, ctrl, out := newConsoleFixture(fake, "status\n")

	_, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "running step=1/0")
}

func TestConsoleInvalidTransitionIgnored(t *testing.T) {
	fake := &renderertest.Fake{FrameLimit: 2}
	console, ctrl, out := newConsoleFixture(fake, "")

	require.NoError(t, console.Enqueue(common.Command{Name: common.CommandResume}))
	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, training.ReasonEngineExit, res.Reason)
	assert.Contains(t, out.String(), training.ErrInvalidTransition.Error())
}

func TestConsoleRendererFailureEndsLoop(t *testing.T) {
	fake := &renderertest.Fake{
		FrameLimit: 10,
		Errors:     map[string]error{"SaveSnapshot": renderer.Failure("save_snapshot", "disk full")},
	}
	console, ctrl, _ := newConsoleFixture(fake, "")

	require.NoError(t, console.Enqueue(common.Command{Name: common.CommandSnapshot, Arg: filepath.Join(t.TempDir(), "a.ingp")}))
	res, err := ctrl.Run(context.Background())
	assert.ErrorIs(t, err, common.ErrRenderer)
	assert.Equal(t, training.ReasonRendererFail, res.Reason)
}

func TestConsoleQueueFull(t *testing.T) {
	console, _, _ := newConsoleFixture(&renderertest.Fake{}, "")
	for i := 0; i < CommandQueueSize; i++ {
		require.NoError(t, console.Enqueue(common.Command{Name: common.CommandStatus}))
	}
	assert.ErrorIs(t, console.Enqueue(common.Command{Name: common.CommandStatus}), ErrCommandQueueFull)
}

func TestConsoleEOF(t *testing.T) {
	fake := &renderertest.Fake{FrameLimit: 2, REPL: map[int]bool{1: true, 2: true}}
	console := NewCommandConsole(snapshot.NewStore(fake, log.NewNop()), strings.NewReader(""), nil, log.NewNop())
	ctrl := training.NewController(fake, training.Options{}, nil, log.NewNop())
	ctrl.AddHook(console.Hook)

	res, err := ctrl.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, training.ReasonEngineExit, res.Reason)
}

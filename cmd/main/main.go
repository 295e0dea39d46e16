package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/config"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/evaluation"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/scene"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/services"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/snapshot"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/web"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := config.Default()

	cmd := &cobra.Command{
		Use:   "ngp-harness",
		Short: "Train, evaluate and screenshot scenes on a remote instant-ngp engine",
		Long: `ngp-harness drives an instant-ngp engine worker over RabbitMQ.

It loads a scene and a network config (or a snapshot), trains for --n_steps,
optionally saves a snapshot, evaluates PSNR against --test_transforms and
renders screenshots from --screenshot_transforms or the current camera.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, &opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.Scene, "scene", "", "The scene to load. Can be the scene's name or a full path to the training data.")
	f.StringVar(&opts.Scene, "training_data", "", "Alias of --scene.")
	f.StringVar(&opts.Mode, "mode", "", "Mode can be \"nerf\", \"sdf\", \"image\" or \"volume\". Inferred from the scene if unspecified.")
	f.StringVar(&opts.Network, "network", "", "Path to the network config. Uses the scene's default if unspecified.")

	f.StringVar(&opts.LoadSnapshot, "load_snapshot", "", "Load this snapshot before training. recommended extension: .ingp/.msgpack")
	f.StringVar(&opts.SaveSnapshot, "save_snapshot", "", "Save this snapshot after training. recommended extension: .ingp/.msgpack")
	f.BoolVar(&opts.NeRFCompatibility, "nerf_compatibility", false, "Matches parameters with original NeRF. Can cause slowness and worse results on some scenes.")

	f.StringVar(&opts.TestTransforms, "test_transforms", "", "Path to a nerf style transforms json from which we will compute PSNR.")
	f.IntVar(&opts.EvalSPP, "eval_spp", opts.EvalSPP, "Number of samples per pixel when evaluating.")
	f.StringVar(&opts.EvalDebugDir, "eval_debug_dir", opts.EvalDebugDir, "Directory receiving ref.png, out.png and diff.png of the first test frame.")
	f.BoolVar(&opts.SSIM, "ssim", false, "Compute a windowed SSIM instead of reporting 0.")

	f.StringVar(&opts.ScreenshotTransforms, "screenshot_transforms", "", "Path to a nerf style transforms.json from which to save screenshots.")
	f.IntSliceVar(&opts.ScreenshotFrames, "screenshot_frames", nil, "Which frame(s) to take screenshots of.")
	f.StringVar(&opts.ScreenshotDir, "screenshot_dir", "", "Which directory to output screenshots to.")
	f.IntVar(&opts.ScreenshotW, "screenshot_w", 0, "Screenshot resolution width.")
	f.IntVar(&opts.ScreenshotH, "screenshot_h", 0, "Screenshot resolution height.")
	f.IntVar(&opts.ScreenshotSPP, "screenshot_spp", opts.ScreenshotSPP, "Number of samples per pixel in screenshots.")

	f.BoolVar(&opts.GUI, "gui", false, "Run the testbed GUI interactively.")
	f.BoolVar(&opts.Train, "train", false, "If the GUI is enabled, controls whether training starts immediately.")
	f.IntVar(&opts.NSteps, "n_steps", opts.NSteps, "Number of steps to train for before quitting. -1 trains for 100000 steps.")
	f.Float64Var(&opts.Sharpen, "sharpen", 0, "Set amount of sharpening applied to NeRF training images.")

	f.StringVar(&opts.EnvFile, "env_file", opts.EnvFile, "File with environment variables for the broker, database and status server.")
	f.BoolVar(&opts.Debug, "debug", false, "Log at debug level.")
	f.StringVar(&opts.Status.Addr, "status_addr", "", "Serve progress and accept operator commands on this host:port.")

	return cmd
}

func run(cmd *cobra.Command, opts *config.Options) error {
	if err := config.LoadEnvFile(opts.EnvFile, cmd.Flags().Changed("env_file")); err != nil {
		return err
	}
	opts.ApplyEnv()

	logger, err := log.NewLogger(false, opts.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := runHarness(cmd.Context(), opts, logger); err != nil {
		logger.Errorw("harness failed", "error", err)
		return err
	}
	return nil
}

func runHarness(parent context.Context, opts *config.Options, logger *log.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := opts.Validate(); err != nil {
		return err
	}
	if err := opts.RequireBroker(); err != nil {
		return err
	}
	registry, err := scene.LoadRegistry(opts.ScenesFile)
	if err != nil {
		return err
	}

	broker, err := services.NewBrokerService(opts.Broker, logger.Named("broker"))
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer broker.Shutdown()
	client := services.NewRenderClient(broker, logger.Named("renderer"))

	runID := uuid.NewString()
	board := services.NewStatusBoard(runID)
	collab := services.Collaborators{
		Events:   broker,
		Board:    board,
		Progress: os.Stderr,
	}

	var history evaluation.History
	if opts.Mongo.Host != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(opts.Mongo.URI()))
		if err != nil {
			return fmt.Errorf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		manager := evaluation.NewEvaluationManager(mongoClient, logger.Named("evaluations"))
		collab.Evaluations = manager
		history = manager
	}

	console := services.NewCommandConsole(snapshot.NewStore(client, logger), os.Stdin, os.Stdout, logger.Named("console"))
	console.OnSnapshot = func(ctx context.Context, h snapshot.Handle) {
		e := services.Event{Type: services.EventSnapshotSaved, RunID: runID, Scene: opts.Scene, Time: time.Now().UTC(), Payload: h}
		if err := broker.Publish(ctx, e); err != nil {
			logger.Warnw("failed to publish event", "type", e.Type, "error", err)
		}
	}
	collab.Console = console

	if opts.Status.Addr != "" {
		server := web.NewWebServer(opts.Status, board, console, history, logger.Named("status"))
		go func() {
			if err := server.Run(opts.Status.Addr); err != nil {
				logger.Errorw("status server stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
	}

	harness := services.NewHarnessService(client, *opts, registry, collab, runID, logger.Named("harness"))
	out, err := harness.Run(ctx)
	if out != nil && out.Evaluation != nil {
		fmt.Println(out.Evaluation.Summary.String())
	}
	if errors.Is(err, context.Canceled) {
		logger.Infow("interrupted", "run_id", runID)
	}
	return err
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/scene"
)

// Defaults shared with the command line.
const (
	DefaultEnvFile       = ".env"
	DefaultConfigsDir    = "configs"
	DefaultStepLimit     = 100000
	DefaultScreenshotSPP = 16
	DefaultEvalSPP       = 8
	DefaultRPCQueue      = "ngp-rpc"
	DefaultEventsQueue   = "ngp-events"
)

// DefaultWindow is the window size used when no screenshot size is given, and WindowPixelBudget the most
// pixels a window may have before it is halved.
var (
	DefaultWindow     = [2]int{1920, 1080}
	WindowPixelBudget = 1920 * 1080 * 4
)

var (
	// ErrInvalidOptions is returned when Options fail validation.
	ErrInvalidOptions = fmt.Errorf("%w: invalid options", common.ErrConfig)
	// ErrEnvFile is returned when an explicitly requested env file cannot be loaded.
	ErrEnvFile = fmt.Errorf("%w: cannot load env file", common.ErrConfig)
	// ErrMissingBroker is returned when no broker host is configured. The Renderer is only reachable through it.
	ErrMissingBroker = fmt.Errorf("%w: RABBITMQ_IP is not set", common.ErrConfig)
)

// BrokerConfig locates the RabbitMQ broker carrying Renderer calls and run events. A run needs a Host,
// see RequireBroker.
type BrokerConfig struct {
	Host        string
	User        string
	Password    string
	RPCQueue    string `validate:"required_with=Host"`
	EventsQueue string `validate:"required_with=Host"`
}

// URL returns the amqp URL of the broker.
func (b BrokerConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:5672/", b.User, b.Password, b.Host)
}

// MongoConfig locates the evaluation database. An empty Host disables persistence.
type MongoConfig struct {
	Host     string
	User     string
	Password string
}

// URI returns the MongoDB connection string.
func (m MongoConfig) URI() string {
	return fmt.Sprintf("mongodb://%s:%s@%s:27017", m.User, m.Password, m.Host)
}

// StatusConfig configures the status server. Commands are only accepted when an operator is configured.
type StatusConfig struct {
	Addr                 string `validate:"omitempty,hostname_port"`
	JWTSecret            string `validate:"required_with=OperatorPasswordHash"`
	Operator             string `validate:"required_with=OperatorPasswordHash"`
	OperatorPasswordHash string
}

// Options is the full harness configuration.
type Options struct {
	Scene   string
	Mode    string `validate:"required_without=Scene,omitempty,validMode"`
	Network string

	LoadSnapshot      string
	SaveSnapshot      string
	NeRFCompatibility bool

	TestTransforms string
	EvalSPP        int `validate:"gt=0"`
	EvalDebugDir   string
	SSIM           bool

	ScreenshotTransforms string
	ScreenshotFrames     []int `validate:"dive,gte=0"`
	ScreenshotDir        string
	ScreenshotW          int `validate:"gte=0"`
	ScreenshotH          int `validate:"gte=0"`
	ScreenshotSPP        int `validate:"gt=0"`

	GUI     bool
	Train   bool
	NSteps  int
	Sharpen float64 `validate:"gte=0"`

	EnvFile    string
	Debug      bool
	ConfigsDir string `validate:"required"`
	ScenesFile string

	Broker BrokerConfig
	Mongo  MongoConfig
	Status StatusConfig
}

// Default returns Options with the command line defaults.
func Default() Options {
	return Options{
		EvalSPP:       DefaultEvalSPP,
		EvalDebugDir:  ".",
		ScreenshotSPP: DefaultScreenshotSPP,
		NSteps:        -1,
		EnvFile:       DefaultEnvFile,
		ConfigsDir:    DefaultConfigsDir,
		Broker:        BrokerConfig{RPCQueue: DefaultRPCQueue, EventsQueue: DefaultEventsQueue},
	}
}

var validate *validator.Validate

// Initialize the custom validator
func init() {
	validate = validator.New()
	validate.RegisterValidation("validMode", validateMode)
}

func validateMode(fl validator.FieldLevel) bool {
	return scene.IsValidMode(fl.Field().String())
}

// LoadEnvFile loads variables from path into the process environment without overriding existing ones.
// A missing file is only an error when explicit is set.
func LoadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%w: %s: %v", ErrEnvFile, path, err)
	}
	return nil
}

// ApplyEnv fills the environment-backed fields. Unset variables keep the current values.
func (o *Options) ApplyEnv() {
	setString(&o.ConfigsDir, "NGP_CONFIGS_DIR")
	setString(&o.ScenesFile, "NGP_SCENES_FILE")
	setString(&o.Broker.Host, "RABBITMQ_IP")
	setString(&o.Broker.User, "RABBITMQ_DEFAULT_USER")
	setString(&o.Broker.Password, "RABBITMQ_DEFAULT_PASS")
	setString(&o.Broker.RPCQueue, "NGP_RPC_QUEUE")
	setString(&o.Broker.EventsQueue, "NGP_EVENTS_QUEUE")
	setString(&o.Mongo.Host, "MONGO_IP")
	setString(&o.Mongo.User, "MONGO_INITDB_ROOT_USERNAME")
	setString(&o.Mongo.Password, "MONGO_INITDB_ROOT_PASSWORD")
	setString(&o.Status.JWTSecret, "STATUS_JWT_SECRET")
	setString(&o.Status.Operator, "STATUS_OPERATOR")
	setString(&o.Status.OperatorPasswordHash, "STATUS_OPERATOR_PASSWORD_HASH")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate checks the options. Failures wrap ErrInvalidOptions and name the offending fields.
func (o *Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("%w: %s", ErrInvalidOptions, strings.Join(msgs, ", "))
}

// RequireBroker fails with ErrMissingBroker when no broker host is set.
func (o *Options) RequireBroker() error {
	if strings.TrimSpace(o.Broker.Host) == "" {
		return ErrMissingBroker
	}
	return nil
}

// StepLimit maps NSteps to a bound: negative means DefaultStepLimit, zero means no training.
func (o *Options) StepLimit() (limit int, train bool) {
	switch {
	case o.NSteps < 0:
		return DefaultStepLimit, true
	case o.NSteps == 0:
		return 0, false
	default:
		return o.NSteps, true
	}
}

// ShallTrain is the initial training flag: --train with a window, always otherwise.
func (o *Options) ShallTrain() bool {
	if o.GUI {
		return o.Train
	}
	return true
}

// WindowSize returns the window to open: the screenshot size or DefaultWindow, halved until it fits
// WindowPixelBudget.
func (o *Options) WindowSize() (int, int) {
	w, h := o.ScreenshotW, o.ScreenshotH
	if w == 0 {
		w = DefaultWindow[0]
	}
	if h == 0 {
		h = DefaultWindow[1]
	}
	for w*h > WindowPixelBudget {
		w /= 2
		h /= 2
	}
	return w, h
}

// ScreenshotsRequested reports whether a screenshot batch should run.
func (o *Options) ScreenshotsRequested() bool {
	return o.ScreenshotTransforms != "" || o.ScreenshotW > 0
}

// Run is the resolved identity of a harness invocation.
type Run struct {
	Mode         string
	ConfigsDir   string
	Network      string
	NetworkStem  string
	TrainingData string
	// Registered is set when the scene name was found in the registry.
	Registered *scene.Scene
}

// Resolve infers the mode, network config and training data path, using reg for named scenes.
func (o *Options) Resolve(reg *scene.Registry) (Run, error) {
	mode := o.Mode
	if mode == "" {
		m, err := reg.InferMode(o.Scene)
		if err != nil {
			return Run{}, err
		}
		mode = m
	}
	if !scene.IsValidMode(mode) {
		return Run{}, fmt.Errorf("%w: %q", scene.ErrInvalidMode, mode)
	}

	run := Run{Mode: mode, ConfigsDir: filepath.Join(o.ConfigsDir, mode)}

	networkName := scene.DefaultNetwork
	if s, ok := reg.InMode(mode, o.Scene); ok {
		run.Registered = &s
		networkName = s.NetworkName()
	}
	network := o.Network
	if network == "" {
		network = networkName + ".json"
	}
	if !filepath.IsAbs(network) {
		network = filepath.Join(run.ConfigsDir, network)
	}
	run.Network = network
	run.NetworkStem = strings.TrimSuffix(filepath.Base(network), filepath.Ext(network))

	if o.Scene != "" {
		run.TrainingData = o.Scene
		if _, err := os.Stat(o.Scene); err != nil && run.Registered != nil {
			run.TrainingData = run.Registered.TrainingDataPath()
		}
	}
	return run, nil
}

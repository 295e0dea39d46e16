// This file contains the status server. It exposes the progress and evaluation results of the running harness
// and accepts operator commands, which are queued for the training loop and executed between Renderer calls.

package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/golang-jwt/jwt"

	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/common"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/config"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/log"
	evalrecord "github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/evaluation"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/models/operator"
	"github.com/NeRF-or-Nothing/go-ngp-harness/internal/services"
)

// TokenTTL is the lifetime of issued operator tokens.
var TokenTTL = 12 * time.Hour

// CommandSink receives validated remote commands.
type CommandSink interface {
	Enqueue(cmd common.Command) error
}

type WebServer struct {
	jwtSecret string
	app       *fiber.App
	board     *services.StatusBoard
	commands  CommandSink
	history   evalrecord.History
	operator  *operator.Operator
	logger    *log.Logger
}

// NewWebServer creates the status server. Without an operator in cfg, /login always fails and commands
// cannot be sent. A nil commands sink disables /command, a nil history disables /evaluations.
func NewWebServer(cfg config.StatusConfig, board *services.StatusBoard, commands CommandSink, history evalrecord.History, logger *log.Logger) *WebServer {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Authorization, Content-Type",
	}))

	s := &WebServer{
		jwtSecret: cfg.JWTSecret,
		app:       app,
		board:     board,
		commands:  commands,
		history:   history,
		operator:  operator.New(cfg.Operator, cfg.OperatorPasswordHash),
		logger:    logger,
	}
	s.SetupRoutes()
	return s
}

// Run listens on addr until Shutdown.
func (s *WebServer) Run(addr string) error {
	s.logger.Infow("status server listening", "addr", addr)
	return s.app.Listen(addr)
}

func (s *WebServer) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// App exposes the fiber app for tests.
func (s *WebServer) App() *fiber.App {
	return s.app
}

func (s *WebServer) SetupRoutes() {
	s.app.Get("/health", s.healthCheck)
	s.app.Get("/routes", s.getRoutes)
	s.app.Get("/progress", s.getProgress)
	s.app.Get("/evaluation", s.getEvaluation)
	s.app.Get("/evaluations", s.listEvaluations)
	s.app.Get("/evaluations/:runID", s.getStoredEvaluation)
	s.app.Post("/login", s.loginOperator)
	s.app.Post("/command", s.tokenRequired(s.postCommand))
}

func (s *WebServer) tokenRequired(handler fiber.Handler) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			s.logger.Info("Missing Authorization header")
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Missing Authorization header"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.logger.Info("Invalid Authorization header format. Expected: `Bearer <token>`")
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Authorization header format. Expected: `Bearer <token>`"})
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(s.jwtSecret), nil
		})
		if err != nil || !token.Valid {
			s.logger.Info("Invalid token")
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			s.logger.Info("Invalid token claims")
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token claims"})
		}
		username, ok := claims["sub"].(string)
		if !ok {
			s.logger.Info("Invalid operator in token")
			return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid operator in token"})
		}

		c.Locals("operator", username)
		return handler(c)
	}
}

func (s *WebServer) loginOperator(c *fiber.Ctx) error {
	var req common.LoginRequest
	if err := ValidateRequest(c, &req); err != nil {
		s.logger.Infow("login request validation failed", "error", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if s.jwtSecret == "" {
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": operator.ErrNoOperator.Error()})
	}

	if err := s.operator.Authenticate(req.Username, req.Password); err != nil {
		s.logger.Infow("operator login failed", "username", req.Username, "error", err)
		return c.Status(http.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"exp": time.Now().Add(TokenTTL).Unix(),
	})
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		s.logger.Errorw("failed to sign token", "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate token"})
	}
	s.logger.Infow("operator logged in", "username", req.Username)
	return c.Status(http.StatusOK).JSON(fiber.Map{"jwtToken": tokenString})
}

func (s *WebServer) postCommand(c *fiber.Ctx) error {
	if s.commands == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "commands are not accepted by this run"})
	}

	var req common.CommandRequest
	if err := ValidateRequest(c, &req); err != nil {
		s.logger.Infow("command request validation failed", "error", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	source, _ := c.Locals("operator").(string)
	cmd := req.ToCommand("remote:" + source)
	if err := s.commands.Enqueue(cmd); err != nil {
		if errors.Is(err, services.ErrCommandQueueFull) {
			return c.Status(http.StatusTooManyRequests).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"command": cmd.Name, "message": "Command queued"})
}

func (s *WebServer) getProgress(c *fiber.Ctx) error {
	status := s.board.Status()
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"run_id":   status.RunID,
		"scene":    status.Scene,
		"mode":     status.Mode,
		"stage":    status.Stage,
		"training": status.Progress,
		"updated":  status.Updated,
	})
}

func (s *WebServer) getEvaluation(c *fiber.Ctx) error {
	status := s.board.Status()
	if status.Evaluation == nil {
		return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": "no evaluation yet", "stage": status.Stage})
	}
	report := status.Evaluation
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"run_id":   status.RunID,
		"manifest": report.Manifest,
		"spp":      report.SPP,
		"summary":  report.Summary,
		"line":     report.Summary.String(),
		"frames":   report.Frames,
	})
}

// listEvaluations returns the stored evaluations of a scene, newest first.
func (s *WebServer) listEvaluations(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "no evaluation store configured"})
	}
	var req common.EvaluationsRequest
	if err := ValidateRequest(c, &req); err != nil {
		s.logger.Infow("evaluations request validation failed", "error", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	records, err := s.history.ListForScene(c.Context(), req.Scene, req.Limit)
	if err != nil {
		s.logger.Errorw("failed to list evaluations", "scene", req.Scene, "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to list evaluations"})
	}
	if records == nil {
		records = []*evalrecord.Evaluation{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"scene": req.Scene, "evaluations": records})
}

func (s *WebServer) getStoredEvaluation(c *fiber.Ctx) error {
	if s.history == nil {
		return c.Status(http.StatusServiceUnavailable).JSON(fiber.Map{"error": "no evaluation store configured"})
	}
	var req common.EvaluationRequest
	if err := ValidateRequest(c, &req); err != nil {
		s.logger.Infow("evaluation request validation failed", "error", err)
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	record, err := s.history.GetEvaluation(c.Context(), req.RunID)
	if err != nil {
		if errors.Is(err, evalrecord.ErrEvaluationNotFound) {
			return c.Status(http.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		s.logger.Errorw("failed to get evaluation", "run_id", req.RunID, "error", err)
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to get evaluation"})
	}
	return c.Status(http.StatusOK).JSON(record)
}

func (s *WebServer) getRoutes(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(s.app.GetRoutes())
}

func (s *WebServer) healthCheck(c *fiber.Ctx) error {
	return c.SendString("OK")
}

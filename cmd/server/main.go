package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"yuzu/concierge/internal/agent"
	"yuzu/concierge/internal/api"
	"yuzu/concierge/internal/bot"
	"yuzu/concierge/internal/config"
	"yuzu/concierge/internal/control"
	"yuzu/concierge/internal/daily"
	"yuzu/concierge/internal/health"
	"yuzu/concierge/internal/loop"
	"yuzu/concierge/internal/persona"
	"yuzu/concierge/internal/reasoning"
	"yuzu/concierge/internal/store"
	"yuzu/concierge/internal/transcript"
	"yuzu/concierge/internal/workerws"
)

func main() {
	// Local overrides first; godotenv never overwrites a set variable.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	logger := newLogger(cfg.Server.LogLevel)
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	reg, err := persona.NewRegistry(persona.Voices{
		Router:  cfg.Personas.RouterVoice,
		Support: cfg.Personas.SupportVoice,
		Booking: cfg.Personas.BookingVoice,
	})
	if err != nil {
		logger.Fatal("persona registry", zap.Error(err))
	}

	ctx := context.Background()
	reasoner, err := reasoning.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("reasoning provider", zap.Error(err))
	}

	st := store.New()
	dailyClient := daily.NewClient(cfg.Daily.APIKey)

	var sink *transcript.RedisSink
	if cfg.Redis.Addr != "" {
		sink = transcript.NewRedisSink(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}), time.Duration(cfg.Redis.TranscriptTTL)*time.Minute, logger)
	} else {
		logger.Warn("REDIS_ADDR not set; transcripts are kept in memory only")
	}

	runner := bot.NewLocalRunner(cfg.Bot.WorkerCmd, logger)
	runner.OnExit = func(sessionID string, err error) {
		st.SetBotRunning(sessionID, false)
		st.SetBotExit(sessionID, exitCodeFromErr(err), time.Now().UTC())
		st.AppendEvent(sessionID, "bot_exit", map[string]any{"error": errString(err)})
	}
	runner.OnLog = func(sessionID, stream, line string) {
		st.AppendEvent(sessionID, "bot_log", map[string]any{"stream": stream, "line": line})
	}
	runner.OnStart = func(sessionID string, pid int) {
		st.SetBotPID(sessionID, pid)
	}

	wsReg := workerws.NewRegistry()
	wss := workerws.NewServer(st, wsReg, cfg.Worker.TokenSecret, logger)
	disp := loop.New(wsReg, st, time.Duration(cfg.Session.TTSTimeoutSeconds)*time.Second, logger)
	wss.OnMessage = disp.OnMessage

	deps := agent.Deps{
		Registry: reg,
		Reasoner: reasoner,
		Rooms:    dailyClient,
		Speakers: disp.SessionSpeaker,
		Store:    st,
		Logger:   logger,
		Grace:    cfg.Grace(),
		Goodbye:  cfg.Session.Goodbye,
	}
	if sink != nil {
		deps.Sink = sink
	}
	mgr, err := agent.NewManager(deps)
	if err != nil {
		logger.Fatal("session manager", zap.Error(err))
	}
	mgr.OnClosed = func(sessionID string) {
		disp.Forget(sessionID)
		wsReg.Close(sessionID, "session ended")
		if runner.IsRunning(sessionID) {
			go func() {
				if err := runner.Stop(sessionID); err != nil && !errors.Is(err, bot.ErrNotRunning) {
					logger.Warn("stop media worker", zap.String("session_id", sessionID), zap.Error(err))
				}
			}()
		}
	}

	disp.OnWorkerReady = func(sessionID string) {
		sess, ok := mgr.Get(sessionID)
		if !ok {
			return
		}
		if err := sess.Start(context.Background()); err != nil {
			logger.Warn("session greeting", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	disp.OnTranscript = func(sessionID, text string) {
		sess, ok := mgr.Get(sessionID)
		if !ok {
			logger.Debug("transcript for unknown session", zap.String("session_id", sessionID))
			return
		}
		if err := sess.HandleUserTurn(context.Background(), text); err != nil {
			if errors.Is(err, agent.ErrSessionEnded) {
				logger.Debug("turn after end", zap.String("session_id", sessionID))
				return
			}
			logger.Warn("user turn", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	h := api.NewHandlers(cfg, st, dailyClient, runner, mgr, logger)
	var pinger health.Pinger
	if sink != nil {
		pinger = sink
		h.Transcripts = sink
	}
	h.Health = health.NewChecker(cfg, pinger).CheckAll

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(logger.Named("http")))
	api.NewRouter(e, h, http.HandlerFunc(wss.HandleWorkerWS))

	grpcSrv := grpc.NewServer(
		grpc.UnaryInterceptor(control.UnaryLogger(logger)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)
	control.Register(grpcSrv, control.NewService(mgr, logger))
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Fatal("grpc listen", zap.String("addr", cfg.Server.GRPCAddr), zap.Error(err))
	}
	go func() {
		logger.Info("control server listening", zap.String("addr", cfg.Server.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc serve", zap.Error(err))
		}
	}()

	addr := ":" + cfg.Server.Port
	go func() {
		logger.Info("http server listening", zap.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http serve", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("shutdown signal received")

	// Goodbye, grace and teardown for every live call before anything closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Warn("terminate sessions", zap.Error(err))
	}
	for _, id := range st.ListSessionIDs() {
		if runner.IsRunning(id) {
			_ = runner.Stop(id)
		}
	}
	grpcSrv.GracefulStop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if sink != nil {
		if err := sink.Close(shutdownCtx); err != nil {
			logger.Warn("transcript sink close", zap.Error(err))
		}
	}
	if c, ok := reasoner.(reasoning.Closer); ok {
		_ = c.Close()
	}
	logger.Info("server exited")
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zapcore.ParseLevel(level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func exitCodeFromErr(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return 1
}

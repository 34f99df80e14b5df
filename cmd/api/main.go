package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collections-platform/internal/analysis"
	"collections-platform/internal/calls"
	"collections-platform/internal/config"
	"collections-platform/internal/conversation"
	"collections-platform/internal/language"
	"collections-platform/internal/llm"
	"collections-platform/internal/retry"
	"collections-platform/internal/speech"
	"collections-platform/internal/telephony"
	"collections-platform/pkg/logger"
	"collections-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Local convenience; real deployments set env through the runner.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	privateKey, err := os.ReadFile(cfg.Vonage.PrivateKeyPath)
	if err != nil {
		log.Error("telephony private key read failed", "err", err)
		os.Exit(1)
	}
	provider, err := telephony.NewVonage(telephony.VonageConfig{
		BaseURL:       cfg.Vonage.BaseURL,
		ApplicationID: cfg.Vonage.ApplicationID,
		PrivateKey:    privateKey,
		FromNumber:    cfg.Vonage.FromNumber,
		AnswerURL:     cfg.AnswerURL(),
		EventURL:      cfg.EventURL(),
	}, log)
	if err != nil {
		log.Error("telephony init failed", "err", err)
		os.Exit(1)
	}

	languages := language.DefaultTable()

	speechClient := speech.NewClient(speech.Config{
		BaseURL:  cfg.Speech.BaseURL,
		APIKey:   cfg.Speech.APIKey,
		STTModel: cfg.Speech.STTModel,
		TTSModel: cfg.Speech.TTSModel,
	})

	chatClient := llm.NewClient(llm.ClientConfig{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
	})
	llmPolicy := retry.Policy{
		Op:             "llm.reply",
		MaxAttempts:    cfg.Retry.LLMMaxAttempts,
		AttemptTimeout: cfg.Retry.LLMAttemptTimeout,
		Backoff:        retry.BackoffFixed,
		BaseDelay:      cfg.Retry.BaseDelay,
	}
	responder := llm.NewResponder(chatClient, cfg.LLM.Model, languages, llmPolicy, log)

	engine := conversation.NewEngine(speechClient, speechClient, responder, provider, conversation.Config{
		Transcribe: retry.Policy{
			Op:             "stt.transcribe",
			MaxAttempts:    cfg.Retry.STTMaxAttempts,
			AttemptTimeout: cfg.Retry.STTAttemptTimeout,
			Backoff:        retry.BackoffExponential,
			BaseDelay:      cfg.Retry.BaseDelay,
		},
		TranscribeNonEnglish: retry.Policy{
			Op:             "stt.transcribe",
			MaxAttempts:    cfg.Retry.STTMaxAttempts,
			AttemptTimeout: cfg.Retry.STTNonEnglishTimeout,
			Backoff:        retry.BackoffExponential,
			BaseDelay:      cfg.Retry.BaseDelay,
		},
		Synthesize: retry.Policy{
			Op:             "tts.synthesize",
			MaxAttempts:    cfg.Retry.TTSMaxAttempts,
			AttemptTimeout: cfg.Retry.TTSAttemptTimeout,
			Backoff:        retry.BackoffExponential,
			BaseDelay:      cfg.Retry.BaseDelay,
		},
	}, log)

	analyzerPolicy := retry.Policy{
		Op:             "analysis.extract",
		MaxAttempts:    cfg.Retry.LLMMaxAttempts,
		AttemptTimeout: cfg.Retry.LLMAttemptTimeout,
		Backoff:        retry.BackoffFixed,
		BaseDelay:      cfg.Retry.BaseDelay,
	}
	analyzer := analysis.New(chatClient, cfg.LLM.Model, analyzerPolicy, log)

	var limiter calls.SlotLimiter
	if cfg.UseRedisLimiter() {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		limiter = calls.NewRedisLimiter(rdb, calls.RedisLimiterConfig{Limit: cfg.Dispatch.MaxConcurrent})
		log.Info("using shared redis concurrency cap", "limit", cfg.Dispatch.MaxConcurrent)
	}

	registry := calls.NewRegistry()
	dispatcher := calls.NewDispatcher(calls.DispatcherConfig{
		MaxBatchSize:  cfg.Dispatch.MaxBatchSize,
		MaxConcurrent: cfg.Dispatch.MaxConcurrent,
		BatchTimeout:  cfg.Dispatch.BatchTimeout,
	}, limiter, registry, calls.SessionDeps{
		Dialer:        provider,
		Runner:        engine,
		Analyzer:      analyzer,
		Ender:         provider,
		Languages:     languages,
		AutoThreshold: cfg.Language.AutoThreshold,
		DialTimeout:   cfg.Dispatch.DialTimeout,
		Log:           log,
	}, log)

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, dispatcher, registry, languages)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Bulk dispatch responses wait for whole batches; the write timeout
		// must not undercut the batch deadline.
		WriteTimeout: cfg.Dispatch.BatchTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}

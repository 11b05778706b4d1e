package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"voiceloop/core"
	"voiceloop/factories"
	"voiceloop/server"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}
	logger := core.GetLogger()

	settings := loadSettingsFromEnv(logger)

	infer, err := settings.BuildInference(logger)
	if err != nil {
		logger.Fatalf("failed to build inference service: %v", err)
	}
	synth := settings.BuildSynthesis(logger)
	if !synth.Configured() {
		logger.Warn("synthesis not configured, running in text-only mode")
	}

	// Startup connectivity probe; request handling never depends on it.
	ready := server.NewReadiness()
	go func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if checker, ok := infer.(factories.InferenceReadyChecker); ok {
			if err := checker.CheckReady(probeCtx); err != nil {
				logger.With(map[string]any{"error": err}).Warn("inference readiness probe failed")
				ready.Set(false, err.Error())
				return
			}
		}
		ready.Set(true, "")
		logger.Info("inference readiness probe succeeded")
	}()

	srv := settings.BuildServer(infer, synth, ready, logger)
	mux := http.NewServeMux()
	srv.Routes(mux)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", settings.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.With(map[string]any{"port": settings.Port}).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.With(map[string]any{"error": err}).Error("shutdown failed")
	}
}

// loadSettingsFromEnv loads Settings from SETTINGS_PATH (JSON) when set, then
// overlays the env-var surface on top.
func loadSettingsFromEnv(logger *core.Logger) factories.Settings {
	settings := factories.DefaultSettings()
	if path := os.Getenv("SETTINGS_PATH"); path != "" {
		loaded, err := factories.SettingsFromFile(path)
		if err != nil {
			logger.With(map[string]any{"path": path, "error": err}).Warn("failed to load settings file, using defaults")
		} else {
			settings = loaded
		}
	}

	settings.Port = getEnvAsInt("PORT", settings.Port)
	settings.AllowOrigin = getEnv("ALLOWED_ORIGIN", settings.AllowOrigin)
	settings.SpeechLocale = getEnv("SPEECH_LOCALE", settings.SpeechLocale)
	settings.SystemInstruction = getEnv("SYSTEM_INSTRUCTION", settings.SystemInstruction)

	settings.Inference.Provider = getEnv("INFERENCE_PROVIDER", settings.Inference.Provider)
	settings.Inference.ProjectID = getEnv("GOOGLE_PROJECT_ID", settings.Inference.ProjectID)
	settings.Inference.Region = getEnv("GOOGLE_REGION", settings.Inference.Region)
	settings.Inference.Model = getEnv("GEMINI_MODEL", settings.Inference.Model)
	settings.Inference.OpenAIKey = getEnv("OPENAI_API_KEY", settings.Inference.OpenAIKey)
	settings.Inference.OpenAIModel = getEnv("OPENAI_MODEL", settings.Inference.OpenAIModel)

	settings.Synthesis.APIKey = getEnv("ELEVENLABS_API_KEY", settings.Synthesis.APIKey)
	settings.Synthesis.VoiceID = getEnv("ELEVENLABS_VOICE_ID", settings.Synthesis.VoiceID)
	settings.Synthesis.ModelID = getEnv("ELEVENLABS_MODEL_ID", settings.Synthesis.ModelID)
	settings.Synthesis.OutputFormat = getEnv("ELEVENLABS_OUTPUT_FORMAT", settings.Synthesis.OutputFormat)

	return settings
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}

// Command beitlea runs the Beit Leah intake bot: a WhatsApp (and optionally
// Matrix) conversation service that detects member requests, confirms them,
// and records confirmed requests in the organization's spreadsheet.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/automatifie1-cpu/beit-lea/common/environment"
	"github.com/automatifie1-cpu/beit-lea/common/version"
	"github.com/automatifie1-cpu/beit-lea/internal/beitlea/app"
)

func main() {
	// A .env file is a convenience for development; absence is normal.
	_ = godotenv.Load()

	logger := newLogger()
	logger.Info("starting beitlea",
		"version", version.Version,
		"commit", version.GitCommit,
		"built", version.BuildTime)

	cfg, err := loadConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logger.Error("exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch environment.StringOr("LOG_LEVEL", "info") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (app.Config, error) {
	cfg := app.Config{
		ListenAddr:          environment.StringOr("BEITLEA_LISTEN_ADDR", ":8080"),
		DatabasePath:        environment.StringOr("BEITLEA_DB_PATH", "beitlea.db"),
		ConversationTimeout: environment.DurationOr("BEITLEA_CONVERSATION_TIMEOUT", 0),

		WhatsAppGraphURL: os.Getenv("WHATSAPP_GRAPH_URL"),

		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),

		SheetsURL:    os.Getenv("SHEETS_URL"),
		SheetsToken:  os.Getenv("SHEETS_TOKEN"),
		RegistryFile: os.Getenv("REGISTRY_FILE"),

		MatrixHomeserverURL: os.Getenv("MATRIX_HOMESERVER_URL"),
		MatrixUserID:        os.Getenv("MATRIX_USER_ID"),
		MatrixAccessToken:   os.Getenv("MATRIX_ACCESS_TOKEN"),

		PolicyURL:       os.Getenv("POLICY_URL"),
		ContactName:     os.Getenv("CONTACT_NAME"),
		ContactPhone:    os.Getenv("CONTACT_PHONE"),
		DefaultLanguage: environment.StringOr("DEFAULT_LANGUAGE", "he"),
	}

	var err error
	if cfg.WhatsAppVerifyToken, err = environment.RequiredString("WHATSAPP_VERIFY_TOKEN"); err != nil {
		return app.Config{}, err
	}
	if cfg.WhatsAppAccessToken, err = environment.RequiredString("WHATSAPP_ACCESS_TOKEN"); err != nil {
		return app.Config{}, err
	}
	if cfg.WhatsAppPhoneNumberID, err = environment.RequiredString("WHATSAPP_PHONE_NUMBER_ID"); err != nil {
		return app.Config{}, err
	}
	if cfg.OpenAIAPIKey, err = environment.RequiredString("OPENAI_API_KEY"); err != nil {
		return app.Config{}, err
	}

	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"arogya/internal/api"
	"arogya/internal/classify"
	"arogya/internal/config"
	"arogya/internal/doctors"
	"arogya/internal/logger"
	"arogya/internal/oracle"
	"arogya/internal/storage"
	"arogya/internal/supervisor"
	"arogya/internal/workflow"
)

const configFile = "config.yaml"

func main() {
	if err := godotenv.Load(); err != nil {
		// .env is optional; real deployments set the environment directly.
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	env, err := config.LoadEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}
	if err := logger.Init(env.Log); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize logger")
	}

	file, err := config.LoadFile(configFile)
	if err != nil {
		log.Fatal().Err(err).Str("path", configFile).Msg("failed to load configuration file")
	}

	ctx := context.Background()

	sessions, checkpoints := storage.Open(ctx, env.RedisURL, env.SessionTTL)

	chatOracle, err := oracle.NewChatOracle(ctx, oracle.Config{
		APIKey:      env.OpenAIAPIKey,
		BaseURL:     env.OpenAIBaseURL,
		Model:       env.OpenAIModel,
		MaxTokens:   env.MaxTokens,
		Temperature: env.Temperature,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create chat model")
	}

	intents := classify.NewIntentClassifier(chatOracle)
	risks := classify.NewRiskClassifier(chatOracle, file.Supervisor.EmergencyKeywords)

	directory := doctors.NewService(env.DoctorAPIURL)
	defer directory.Close()

	symptomsWF, err := workflow.NewSymptoms(chatOracle, file.Workflow(workflow.Symptoms), checkpoints)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build symptoms workflow")
	}
	doshaWF, err := workflow.NewDosha(chatOracle, file.Workflow(workflow.Dosha), checkpoints)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build dosha workflow")
	}
	emergencyWF, err := workflow.NewEmergency(chatOracle, risks, checkpoints)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build emergency workflow")
	}
	doctorsWF, err := workflow.NewDoctors(chatOracle, directory, file.Workflow(workflow.Doctors), checkpoints)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build doctors workflow")
	}

	registry := workflow.NewRegistry(symptomsWF, doshaWF, emergencyWF, doctorsWF)
	sup := supervisor.New(registry, intents, risks, sessions, file.Supervisor)

	server := &http.Server{
		Addr:         env.HTTPAddr,
		Handler:      api.NewServer(sup, sessions).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", env.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"comfyrun/internal/api"
	"comfyrun/internal/comfyui"
	"comfyrun/internal/config"
	"comfyrun/internal/imaging"
	"comfyrun/internal/interfaces"
	"comfyrun/internal/jobstore"
	"comfyrun/internal/runner"
	"comfyrun/internal/uploader"
	"comfyrun/internal/workflow"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Configure global logger
	config.ConfigureGlobalLogger()

	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize components
	comfyClient := comfyui.NewClient(cfg.ComfyUI)
	loader := workflow.NewLoader(cfg.Workflow.DefaultPath, cfg.Workflow.ImageNode, cfg.Workflow.ImageField)
	acquirer := imaging.NewAcquirer(cfg.ComfyUI.DownloadTimeout)
	store := jobstore.NewManager(cfg.Redis)

	var up interfaces.Uploader
	if cfg.UploadEnabled() {
		s3up, err := uploader.NewS3Uploader(cfg.S3)
		if err != nil {
			logrus.Fatalf("Failed to create S3 uploader: %v", err)
		}
		up = s3up
		logrus.WithField("bucket", cfg.S3.Bucket).Info("S3 result upload enabled")
	}

	jobRunner := runner.NewRunner(comfyClient, loader, acquirer, store, up, cfg.Image, cfg.ComfyUI.JobTimeout)

	logrus.WithFields(logrus.Fields{
		"server_address": cfg.ComfyUI.ServerAddress,
		"input_dir":      cfg.Image.InputDir,
		"image_node":     cfg.Workflow.ImageNode,
	}).Info("ComfyUI job runner configured")

	// Start HTTP server
	router := gin.Default()
	apiHandler := api.NewHandler(jobRunner, store, comfyClient)
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	// Start server
	go func() {
		logrus.Infof("Server starting on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to listen: %s\n", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")

	// Graceful shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logrus.Fatal("Server forced to shutdown:", err)
	}

	logrus.Info("Server exited")
}

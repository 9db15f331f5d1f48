// Package server is the admin HTTP surface: session CRUD, QR pairing, test
// sends and the notification call-site endpoint.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/raceline/internal/notify"
	"github.com/zulandar/raceline/internal/registry"
	"github.com/zulandar/raceline/internal/wa"
)

const shutdownTimeout = 10 * time.Second

// StartOpts holds configuration for the admin server.
type StartOpts struct {
	Controller  *wa.Controller
	Manager     *registry.Manager
	Dispatcher  *wa.Dispatcher
	Hooks       *notify.Hooks // optional; enables POST /notifications
	Port        int
	AdminKey    string   // empty disables admin auth
	CORSOrigins []string // empty disables CORS
	Log         *zerolog.Logger
	Out         io.Writer
}

func (o StartOpts) validate() error {
	if o.Controller == nil {
		return fmt.Errorf("server: controller is required")
	}
	if o.Manager == nil {
		return fmt.Errorf("server: manager is required")
	}
	if o.Dispatcher == nil {
		return fmt.Errorf("server: dispatcher is required")
	}
	return nil
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	log := zerolog.Nop()
	if opts.Log != nil {
		log = *opts.Log
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(recovery(log), requestID(), accessLog(log))
	if len(opts.CORSOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:  opts.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", headerAdminKey},
			ExposeHeaders: []string{headerRequestID},
			MaxAge:        12 * time.Hour,
		}))
	}

	registerRoutes(router, opts, log)
	return router, nil
}

// Start launches the admin HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Admin API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

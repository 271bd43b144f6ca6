package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/youruser/chainoftrust/internal/api"
	"github.com/youruser/chainoftrust/internal/config"
	imagepkg "github.com/youruser/chainoftrust/internal/image"
	"github.com/youruser/chainoftrust/internal/log"
	"github.com/youruser/chainoftrust/internal/mail"
	"github.com/youruser/chainoftrust/internal/registration"
	"github.com/youruser/chainoftrust/internal/tracing"
	"github.com/youruser/chainoftrust/internal/users"
	"github.com/youruser/chainoftrust/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the registration HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := opts.cfg
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	if cfg.Log.Path != "" {
		cleanup, err := log.Init(cfg.Log.Path)
		if err != nil {
			return err
		}
		defer cleanup()
	}

	tp, err := tracing.Setup(ctx, cfg.Tracing, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			log.ErrorErr(log.CatHTTP, "tracer shutdown failed", err)
		}
	}()

	store, err := users.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	mailer, err := mail.NewProvider(cfg.Mail)
	if err != nil {
		return err
	}

	fonts := imagepkg.NewFontCache(cfg.Assets.Fonts)
	stopWatch := watchFonts(cfg.Assets.FontsDir, fonts)
	defer stopWatch()

	renderer := imagepkg.NewRenderer(cfg.Assets.WithPhotoTemplate, cfg.Assets.AnonTemplate, fonts)
	renderer.MaxPhotoPixels = cfg.Photos.MaxPixels
	svc := registration.New(store, renderer, mailer, registration.Options{
		CardsDir:          cfg.Storage.CardsDir,
		TmpDir:            cfg.Storage.TmpDir,
		AllowRemotePhotos: cfg.Photos.AllowRemote,
		MaxPhotoBytes:     cfg.Server.MaxUploadBytes,
		MaxPhotoPixels:    cfg.Photos.MaxPixels,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = log.Writer(log.CatHTTP)
	gin.DefaultErrorWriter = log.LevelWriter(log.LevelError, log.CatHTTP)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(api.NewServer(svc, store, cfg)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(log.CatHTTP, "listening", "addr", srv.Addr,
			"environment", cfg.Environment, "mail", mailer.Name(), "tracing", tp.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info(log.CatHTTP, "shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// watchFonts flushes the font cache whenever dir changes. A missing
// directory only disables the watch.
func watchFonts(dir string, fonts *imagepkg.FontCache) func() {
	noop := func() {}
	if dir == "" {
		return noop
	}
	w, err := watcher.New(watcher.DefaultConfig(dir))
	if err != nil {
		log.Warn(log.CatFont, "font watcher unavailable", "error", err)
		return noop
	}
	changes, err := w.Start()
	if err != nil {
		log.Warn(log.CatFont, "not watching font directory", "dir", dir, "error", err)
		_ = w.Stop()
		return noop
	}
	go func() {
		for range changes {
			fonts.Flush()
		}
	}()
	return func() { _ = w.Stop() }
}

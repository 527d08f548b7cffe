package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/landmark-client/internal/audio"
	"github.com/DoyleJ11/landmark-client/internal/capture"
	"github.com/DoyleJ11/landmark-client/internal/config"
	"github.com/DoyleJ11/landmark-client/internal/httpapi"
	"github.com/DoyleJ11/landmark-client/internal/hub"
	"github.com/DoyleJ11/landmark-client/internal/session"
	"github.com/DoyleJ11/landmark-client/internal/transport"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const Version = "0.1.0"

type flags struct {
	configPath string
	serverURL  string
	listenAddr string
	cameraDir  string
	audioAsset string
	dev        bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "landmark-client",
		Short:         "Streams camera stills to a landmark service and plays reference sequences",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(f.configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &f, cfg)
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML config file")
	fl.StringVar(&f.serverURL, "url", "", "vision service websocket URL")
	fl.StringVar(&f.listenAddr, "listen", "", "control API address")
	fl.StringVar(&f.cameraDir, "camera-dir", "", "directory of still images used as the camera")
	fl.StringVar(&f.audioAsset, "audio", "", "reference audio asset")
	fl.BoolVar(&f.dev, "dev", false, "human-readable debug logging")
	return cmd
}

// applyFlags lets explicitly set flags win over file and environment.
func applyFlags(cmd *cobra.Command, f *flags, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("url") {
		cfg.ServerURL = f.serverURL
	}
	if set("listen") {
		cfg.ListenAddr = f.listenAddr
	}
	if set("camera-dir") {
		cfg.Capture.CameraDir = f.cameraDir
	}
	if set("audio") {
		cfg.Playback.AudioAsset = f.audioAsset
	}
	if set("dev") {
		cfg.Dev = f.dev
	}
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, cfg *config.Config) error {
	log, err := newLogger(cfg.Dev)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	if cfg.Capture.CameraDir == "" {
		return errors.New("camera_dir is required")
	}
	cam, err := capture.NewDirCamera(cfg.Capture.CameraDir)
	if err != nil {
		return err
	}

	// the session tears down after the signal, so it must outlive ctx
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	conn := transport.NewConnection(base, transport.Config{
		ReconnectDelay: cfg.Socket.ReconnectDelay,
		DialTimeout:    cfg.Socket.DialTimeout,
		WriteTimeout:   cfg.Socket.WriteTimeout,
		ReadLimit:      cfg.Socket.ReadLimit,
		Logger:         log,
	})
	defer conn.Shutdown()

	h := hub.NewHub(base, log)
	sess := session.New(base, session.Options{
		Conn:               conn,
		Events:             conn.Events(),
		Camera:             cam,
		Audio:              audio.NewNullPlayer(log),
		AudioAsset:         cfg.Playback.AudioAsset,
		CaptureInterval:    cfg.Capture.Interval,
		MinCaptureInterval: cfg.Capture.MinInterval,
		PlaybackInterval:   cfg.Playback.FrameInterval,
		Renderer:           h,
		Logger:             log,
	})

	conn.Open(cfg.ServerURL)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.SetupRoutes(sess.Inbox(), h, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("control API listening", zap.String("addr", cfg.ListenAddr), zap.String("server", cfg.ServerURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if cerr := sess.Close(); cerr != nil {
		log.Warn("session cleanup", zap.Error(cerr))
	}
	return err
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/lumakey/certs"
	"github.com/zsiec/lumakey/config"
	"github.com/zsiec/lumakey/preview"
	"github.com/zsiec/lumakey/session"
	"github.com/zsiec/lumakey/source"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	rgbURL := flag.String("rgb", "", "RGB stream URL or file (overrides config)")
	alphaURL := flag.String("alpha", "", "alpha stream URL or file (overrides config)")
	expURL := flag.String("experience", "", "experience record URL (overrides config)")
	previewAddr := flag.String("preview", "", "preview server address (overrides config)")
	dumpDir := flag.String("dump", "", "directory for PNG frame dumps (empty disables)")
	dumpMaxDim := flag.Int("dump-max-dim", 0, "downscale dumped frames to fit this dimension")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "path", *configPath, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	level := cfg.Log.SlogLevel()
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if *rgbURL != "" {
		cfg.Experience.RGBURL = *rgbURL
	}
	if *alphaURL != "" {
		cfg.Experience.AlphaURL = *alphaURL
	}
	if *expURL != "" {
		cfg.Experience.URL = *expURL
	}
	if *previewAddr != "" {
		cfg.Preview.Addr = *previewAddr
	}
	if v := os.Getenv("PREVIEW_ADDR"); v != "" && *previewAddr == "" {
		cfg.Preview.Addr = v
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	playOnce := cfg.Playback.PlayOnce
	if cfg.Experience.URL != "" {
		timeout := time.Duration(cfg.Experience.TimeoutMs) * time.Millisecond
		fetcher := config.NewFetcher(timeout, cfg.Experience.HTTP3)
		exp, err := fetcher.Fetch(ctx, cfg.Experience.URL)
		fetcher.Close()
		if err != nil {
			log.Error("failed to fetch experience record", "url", cfg.Experience.URL, "error", err)
			os.Exit(1)
		}
		cfg.Experience.RGBURL = exp.RGBURL
		cfg.Experience.AlphaURL = exp.AlphaURL
		playOnce = playOnce || exp.PlayOnce
		log.Info("experience record fetched",
			"rgb", exp.RGBURL, "alpha", exp.AlphaURL, "cta", exp.CTAURL)
	}

	if cfg.Experience.RGBURL == "" || cfg.Experience.AlphaURL == "" {
		log.Error("both RGB and alpha stream URLs are required")
		os.Exit(1)
	}

	log.Info("lumakey starting",
		"version", version,
		"rgb", cfg.Experience.RGBURL,
		"alpha", cfg.Experience.AlphaURL,
		"tick_hz", cfg.Playback.TickHz,
	)

	sess, err := session.New(session.Config{
		RGB:             source.NewFFmpegSource(cfg.Experience.RGBURL, log),
		Alpha:           source.NewFFmpegSource(cfg.Experience.AlphaURL, log),
		TickHz:          cfg.Playback.TickHz,
		Preroll:         cfg.Preroll(),
		ParallelPreroll: cfg.Playback.ParallelPreroll,
		PlayOnce:        playOnce,
		Logger:          log,
	})
	if err != nil {
		log.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Preview.Addr != "" {
		var cert *certs.CertInfo
		if cfg.Preview.TLS {
			cert, err = certs.Generate(0)
			if err != nil {
				log.Error("failed to generate cert", "error", err)
				os.Exit(1)
			}
			log.Info("certificate generated",
				"fingerprint", cert.FingerprintBase64(),
				"expires", cert.NotAfter.Format(time.RFC3339),
			)
		}
		srv := preview.NewServer(preview.ServerConfig{
			Addr:     cfg.Preview.Addr,
			Provider: sess,
			Cert:     cert,
			Logger:   log,
		})
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	if *dumpDir != "" {
		sink, err := preview.NewPNGSink(*dumpDir, *dumpMaxDim)
		if err != nil {
			log.Error("failed to create frame sink", "error", err)
			os.Exit(1)
		}
		interval := time.Duration(float64(time.Second) / cfg.Playback.TickHz)
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					log.Info("frame dump finished", "frames", sink.Written(), "dir", *dumpDir)
					return nil
				case <-ticker.C:
					if tex := sess.Output(); tex != nil {
						if err := sink.Write(tex); err != nil {
							return err
						}
					}
				}
			}
		})
	}

	g.Go(func() error {
		sess.Load(ctx)
		select {
		case <-sess.Ready():
			log.Info("session ready, starting playback", "session", sess.ID())
			sess.Play()
		case serr := <-sess.Errors():
			return serr
		case <-ctx.Done():
			return nil
		}
		select {
		case serr := <-sess.Errors():
			return serr
		case <-ctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		log.Error("fatal error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

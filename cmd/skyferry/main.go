package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"skyferry/internal/config"
	"skyferry/internal/web"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./skyferry.yaml", "Path to YAML config")
	flag.Parse()

	logs := web.NewLogBuffer(2000)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	status := web.NewStatus(runID)
	rt, err := newRuntime(cfg, configPath, runID, status)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}

	log.Printf("skyferry starting run_id=%s", runID)
	log.Printf("mavlink endpoint=%s platform=%s web=%s", cfg.MAVLink.Endpoint, cfg.Platform.Name, cfg.Web.Listen)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := rt.Reload(); err != nil {
					log.Printf("config: reload rejected: %v", err)
				}
			}
		}
	}()

	go func() {
		if err := web.Serve(ctx, cfg.Web.Listen, status, rt, logs); err != nil && ctx.Err() == nil {
			log.Printf("web server stopped: %v", err)
			cancel()
		}
	}()

	rt.Run(ctx)
	log.Printf("skyferry stopping")
}

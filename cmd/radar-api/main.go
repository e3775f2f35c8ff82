package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/passive.radar/internal/config"
	"github.com/banshee-data/passive.radar/internal/replay"
	"github.com/banshee-data/passive.radar/internal/version"
)

var (
	configFile     = flag.String("config", config.DefaultConfigPath, "Path to the YAML or JSON config file")
	replayFile     = flag.String("replay", "", "Replay a pcap capture of pipeline traffic into the channels")
	replayRealtime = flag.Bool("replay-realtime", false, "Pace the replay to the capture timestamps")
	replaySpeed    = flag.Float64("replay-speed", 1.0, "Replay speed multiplier when -replay-realtime is set")
	showVersion    = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads path. A missing file at the default path runs with
// defaults; any other load failure is fatal.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == config.DefaultConfigPath && errors.Is(err, fs.ErrNotExist) {
		log.Printf("no config at %s, using defaults", path)
		return config.Empty(), nil
	}
	return nil, err
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	p, err := newPipeline(cfg, nil, nil)
	if err != nil {
		log.Fatalf("failed to build pipeline: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p.start(ctx, &wg)

	if *replayFile != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := replay.File(ctx, *replayFile, p.replayConfig(*replayRealtime, *replaySpeed))
			if err != nil && err != context.Canceled {
				log.Printf("replay error: %v", err)
				return
			}
			log.Printf("replay delivered %d of %d packets", stats.Delivered, stats.Packets)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server := &http.Server{
			Addr:    net.JoinHostPort(cfg.GetBind(), strconv.Itoa(cfg.GetAPIPort())),
			Handler: p.handler(),
		}

		go func() {
			log.Printf("API listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

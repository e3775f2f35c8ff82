package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/passive.radar/internal/adsb"
	"github.com/banshee-data/passive.radar/internal/api"
	"github.com/banshee-data/passive.radar/internal/association"
	"github.com/banshee-data/passive.radar/internal/config"
	"github.com/banshee-data/passive.radar/internal/httputil"
	"github.com/banshee-data/passive.radar/internal/ingest"
	"github.com/banshee-data/passive.radar/internal/monitoring"
	"github.com/banshee-data/passive.radar/internal/replay"
	"github.com/banshee-data/passive.radar/internal/stash"
	"github.com/banshee-data/passive.radar/internal/timeutil"
)

// pipeline is the wired service: one channel per stream, the stash windows
// behind the poller, and the optional ADS-B correlator on the detection
// channel.
type pipeline struct {
	cfg      *config.Config
	hub      *ingest.Hub
	ports    map[ingest.Name]int
	poller   *stash.Poller
	server   *api.Server
	registry *prometheus.Registry

	cache      *adsb.Cache
	correlator *association.Correlator
}

// validators are the per-channel schema checks applied before a document
// replaces the published one.
var validators = map[ingest.Name]ingest.Validator{
	ingest.Map:          stash.ValidateMap,
	ingest.Detection:    association.ValidateDetection,
	ingest.Track:        ingest.JSONObject,
	ingest.Timing:       ingest.JSONObject,
	ingest.IQData:       stash.ValidateIQData,
	ingest.FalseTargets: stash.ValidateFalseTargets,
}

func newPipeline(cfg *config.Config, clock timeutil.Clock, client httputil.HTTPClient) (*pipeline, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	p := &pipeline{
		cfg: cfg,
		hub: ingest.NewHub(ingest.ChannelConfig{
			MaxDocumentBytes: cfg.GetMaxDocumentBytes(),
			Clock:            clock,
			Validators:       validators,
		}),
		ports:    make(map[ingest.Name]int),
		registry: prometheus.NewRegistry(),
	}
	for name, port := range cfg.ChannelPorts() {
		n, err := ingest.ParseName(name)
		if err != nil {
			return nil, err
		}
		p.ports[n] = port
	}

	if err := monitoring.Register(p.registry); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	p.registry.MustRegister(collectors.NewGoCollector())

	p.server = api.NewServer(p.hub, cfg)

	if cfg.GetADSBEnabled() {
		if client == nil {
			client = httputil.NewTimeoutClient(cfg.GetFeedTimeout())
		}
		p.cache = adsb.NewCache(adsb.CacheConfig{
			Fetcher:  adsb.NewHTTPFetcher(client, cfg.GetTar1090()),
			Clock:    clock,
			Interval: cfg.GetCacheInterval(),
			Timeout:  cfg.GetFeedTimeout(),
		})
		engine := association.NewEngine(association.Config{
			Rx:               cfg.GetRx(),
			Tx:               cfg.GetTx(),
			CarrierHz:        cfg.GetFC(),
			DelayTolerance:   cfg.GetDelayTolerance(),
			DopplerTolerance: cfg.GetDopplerTolerance(),
		})

		// detections are published by the correlator rather than the
		// framer, once their ADS-B matches are attached
		detection := p.hub.MustChannel(ingest.Detection)
		p.correlator = association.NewCorrelator(engine, p.cache, detection.Publish)
		p.correlator.SetClock(clock)
		detection.SetSink(p.correlator.Submit)
		p.server.SetAircraft(p.cache)

		fc, unit := humanize.ComputeSI(cfg.GetFC())
		log.Printf("ADS-B association enabled: feed %s, carrier %.3f %sHz", cfg.GetTar1090(), fc, unit)
	}

	p.poller = stash.NewPoller(stash.PollerConfig{
		Timestamp: p.hub.MustChannel(ingest.Timestamp),
		Clock:     clock,
		Interval:  cfg.GetPollInterval(),
	})
	windows := []struct {
		window stash.Window
		source ingest.Name
	}{
		{stash.NewMaxHold(cfg.GetMapCPI()), ingest.Map},
		{stash.NewDetectionHistory(cfg.GetDetectionCPI()), ingest.Detection},
		{stash.NewTimedDetectionHistory(cfg.GetDetectionRetention()), ingest.Detection},
		{stash.NewTiming(cfg.GetTimingCPI()), ingest.Timing},
		{stash.NewIQData(cfg.GetIQDataCPI()), ingest.IQData},
		{stash.NewFalseTargets(), ingest.FalseTargets},
	}
	for _, w := range windows {
		p.poller.Add(w.window, p.hub.MustChannel(w.source))
		p.server.AddWindow(w.window)
	}

	return p, nil
}

// handler mounts the read API, the admin routes and /metrics.
func (p *pipeline) handler() http.Handler {
	mux := p.server.ServeMux()
	p.hub.AttachAdminRoutes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	return api.Handler(mux)
}

// start launches one listener per channel, the poller and the correlator.
// Every goroutine is tracked by wg and exits when ctx is done.
func (p *pipeline) start(ctx context.Context, wg *sync.WaitGroup) {
	bind := p.cfg.GetBind()
	for _, name := range p.hub.Names() {
		l := ingest.NewListener(ingest.ListenerConfig{
			Address:        net.JoinHostPort(bind, strconv.Itoa(p.ports[name])),
			Channel:        p.hub.MustChannel(name),
			Greeting:       p.cfg.GetGreeting(),
			ResetOnConnect: p.cfg.GetResetOnConnect(),
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("%s listener error: %v", name, err)
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.poller.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("stash poller error: %v", err)
		}
		log.Print("stash poller terminated")
	}()

	if p.correlator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.correlator.Run(ctx); err != nil && err != context.Canceled {
				log.Printf("correlator error: %v", err)
			}
			log.Print("correlator terminated")
		}()
	}
}

// replayConfig routes captured traffic to channels by their configured port.
func (p *pipeline) replayConfig(realtime bool, speed float64) replay.Config {
	ports := make(map[uint16]replay.Target, len(p.ports))
	for name, port := range p.ports {
		ports[uint16(port)] = p.hub.MustChannel(name)
	}
	return replay.Config{Ports: ports, Realtime: realtime, Speed: speed}
}

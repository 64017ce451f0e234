package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rewired-gh/seisguard/internal/config"
	"github.com/rewired-gh/seisguard/internal/fdsn"
	"github.com/rewired-gh/seisguard/internal/forward"
	"github.com/rewired-gh/seisguard/internal/intensity"
	"github.com/rewired-gh/seisguard/internal/logger"
	"github.com/rewired-gh/seisguard/internal/models"
	"github.com/rewired-gh/seisguard/internal/packet"
	"github.com/rewired-gh/seisguard/internal/pipeline"
	"github.com/rewired-gh/seisguard/internal/receiver"
	"github.com/rewired-gh/seisguard/internal/snapshot"
	"github.com/rewired-gh/seisguard/internal/storage"
	"github.com/rewired-gh/seisguard/internal/telegram"
	"github.com/rewired-gh/seisguard/internal/trigger"
	"github.com/rewired-gh/seisguard/internal/waveform"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	filePath   = flag.String("file", "", "Replay a MiniSEED file instead of listening on UDP")
	pcapPath   = flag.String("pcap", "", "Replay UDP datagrams from a pcap capture instead of listening")
	speed      = flag.Float64("speed", 0, "Replay pacing, 1 for real time; 0 replays as fast as possible")
	port       = flag.Int("port", 0, "Override receiver.port; also filters the pcap replay by destination port")
)

const statsInterval = 5 * time.Minute

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.Receiver.Port = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxAlerts, cfg.Storage.MaxIntensityRows, cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	trig, err := trigger.NewManager(cfg.TriggerSettings())
	if err != nil {
		logger.Fatal("Failed to initialize trigger: %v", err)
	}

	var estimator *intensity.Estimator
	if cfg.Intensity.Enabled {
		estimator, err = intensity.NewEstimator(cfg.IntensitySettings())
		if err != nil {
			logger.Fatal("Failed to initialize intensity estimator: %v", err)
		}
	}

	cached, err := store.LoadSensitivities()
	if err != nil {
		logger.Warn("Failed to load cached sensitivities: %v", err)
	}
	applySensitivities(cfg, trig, estimator, cached)

	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(
			cfg.Telegram.BotToken,
			cfg.Telegram.ChatID,
			cfg.Station.Network+"."+cfg.Station.Station,
			cfg.Intensity.MinNotify,
			cfg.Telegram.MaxRetries,
			cfg.Telegram.RetryDelayBase,
		)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	waveforms := waveform.NewStore(waveform.DefaultRetention)
	alerts := pipeline.NewAlertTable()
	deps := pipeline.Deps{
		Decoder:   packet.NewDecoder(cfg.Station.Network, cfg.Station.Station, cfg.Station.SampleRate),
		Trigger:   trig,
		Intensity: estimator,
		Waveforms: waveforms,
		Alerts:    alerts,
		Sinks:     []pipeline.Sink{store},
	}
	if telegramClient != nil {
		async := pipeline.NewAsyncSink("telegram", telegramClient, cfg.Telegram.QueueSize)
		async.Start(ctx)
		defer async.Close()
		deps.Sinks = append(deps.Sinks, async)
	}

	if cfg.Forward.Enabled {
		fwd, err := forward.New(cfg.ForwardSettings())
		if err != nil {
			logger.Fatal("Failed to initialize forwarder: %v", err)
		}
		fwd.Start(ctx)
		defer func() {
			if err := fwd.Close(); err != nil {
				logger.Warn("Failed to close forwarder: %v", err)
			}
		}()
		deps.Forwarder = fwd
		logger.Info("Forwarding to %v (data: %v, alarms: %v)", cfg.Forward.Addresses, cfg.Forward.Data, cfg.Forward.Alarms)
	}

	if cfg.Snapshot.Enabled {
		scheduler, err := snapshot.NewScheduler(waveforms, cfg.SnapshotSettings(), func(alert models.Alert, path string) {
			alerts.SetSnapshot(alert.ID, path)
			if err := store.SetSnapshotPath(alert.ID, path); err != nil {
				logger.Warn("Failed to record snapshot for alert %s: %v", alert.ID, err)
			}
			if telegramClient != nil {
				if err := telegramClient.SendSnapshot(ctx, alert, path); err != nil {
					logger.Warn("Failed to send snapshot to Telegram: %v", err)
				}
			}
		})
		if err != nil {
			logger.Fatal("Failed to initialize snapshot scheduler: %v", err)
		}
		defer scheduler.Close()
		deps.Snapshots = scheduler
	}

	pipe, err := pipeline.New(deps)
	if err != nil {
		logger.Fatal("Failed to initialize pipeline: %v", err)
	}

	if telegramClient != nil {
		telegramClient.ListenForCommands(ctx, pipe)
	}

	packets := make(chan []byte, cfg.Receiver.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(packets)
		return runSource(gctx, cfg, packets)
	})
	g.Go(func() error {
		// a finished replay ends the process
		defer cancel()
		return pipe.Run(gctx, packets)
	})
	g.Go(func() error {
		maintain(gctx, cfg, store, trig, estimator, pipe, telegramClient)
		return nil
	})

	logger.Info("Starting detection for %s.%s (sta: %.1fs, lta: %.1fs, threshold: %.2f/%.2f, channels: %v)",
		cfg.Station.Network, cfg.Station.Station,
		cfg.Trigger.STA, cfg.Trigger.LTA,
		cfg.Trigger.Threshold, cfg.Trigger.ResetThreshold,
		cfg.Trigger.Channels,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Service stopped with error: %v", err)
		return
	}
	logStats(pipe)
	logger.Info("Service stopped")
}

// runSource feeds packets from the replay file, the pcap capture or the UDP socket.
func runSource(ctx context.Context, cfg *config.Config, out chan<- []byte) error {
	switch {
	case *filePath != "":
		logger.Info("Replaying MiniSEED file %s (speed %v)", *filePath, *speed)
		return receiver.ReplayFile(ctx, *filePath, *speed, out)
	case *pcapPath != "":
		logger.Info("Replaying pcap capture %s (port %d, speed %v)", *pcapPath, *port, *speed)
		return receiver.ReplayPCAP(ctx, *pcapPath, *port, *speed, out)
	default:
		listener := receiver.NewUDPListener(receiver.UDPConfig{
			Address: cfg.ListenAddress(),
			RcvBuf:  cfg.Receiver.RcvBuf,
		})
		if err := listener.Listen(); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		logger.Info("Listening for datagrams on %s", listener.LocalAddr())
		return listener.Serve(ctx, out)
	}
}

// maintain runs the periodic sensitivity refresh, storage rotation and stats
// logging until ctx is cancelled.
func maintain(
	ctx context.Context,
	cfg *config.Config,
	store *storage.Storage,
	trig *trigger.Manager,
	estimator *intensity.Estimator,
	pipe *pipeline.Pipeline,
	telegramClient *telegram.Client,
) {
	rotateTicker := time.NewTicker(cfg.Storage.RotateInterval)
	defer rotateTicker.Stop()
	statsTicker := time.NewTicker(statsInterval)
	defer statsTicker.Stop()

	var (
		fdsnClient *fdsn.Client
		refresh    <-chan time.Time
	)
	if cfg.Sensitivity.FDSNEnabled {
		fdsnClient = fdsn.NewClient(cfg.Sensitivity.FDSNURLs, cfg.Sensitivity.Timeout, fdsn.ClientConfig{
			MaxRetries:     cfg.Sensitivity.MaxRetries,
			RetryDelayBase: cfg.Sensitivity.RetryDelayBase,
		})
		refreshTicker := time.NewTicker(cfg.Sensitivity.RefreshInterval)
		defer refreshTicker.Stop()
		refresh = refreshTicker.C
	}

	consecutiveFailures := 0

	handleCycleResult := func(err error) {
		if err != nil {
			consecutiveFailures++
			logger.Error("Sensitivity refresh failed: %v", err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(ctx, err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
		} else {
			if consecutiveFailures > 0 && telegramClient != nil {
				if sendErr := telegramClient.SendRecovery(ctx, consecutiveFailures); sendErr != nil {
					logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
				}
			}
			consecutiveFailures = 0
		}
	}

	if fdsnClient != nil {
		logger.Debug("Running initial sensitivity refresh")
		handleCycleResult(refreshSensitivities(ctx, fdsnClient, cfg, store, trig, estimator))
	}

	for {
		select {
		case <-ctx.Done():
			return

		case <-refresh:
			handleCycleResult(refreshSensitivities(ctx, fdsnClient, cfg, store, trig, estimator))

		case <-rotateTicker.C:
			if err := store.Rotate(); err != nil {
				logger.Warn("Failed to rotate storage: %v", err)
			}

		case <-statsTicker.C:
			logStats(pipe)
		}
	}
}

// refreshSensitivities fetches instrument sensitivities, caches them and applies
// them together with the static configuration.
func refreshSensitivities(
	ctx context.Context,
	client *fdsn.Client,
	cfg *config.Config,
	store *storage.Storage,
	trig *trigger.Manager,
	estimator *intensity.Estimator,
) error {
	if ctx.Err() != nil {
		return nil
	}
	values, err := client.FetchSensitivities(ctx, cfg.Station.Network, cfg.Station.Station)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to fetch sensitivities for %s.%s: %w", cfg.Station.Network, cfg.Station.Station, err)
	}
	if err := store.SaveSensitivities(values, time.Now()); err != nil {
		logger.Warn("Failed to cache sensitivities: %v", err)
	}
	applySensitivities(cfg, trig, estimator, values)
	logger.Info("Applied %d fetched sensitivities", len(values))
	return nil
}

// applySensitivities merges fetched values under the static configuration and
// hands the result to the detectors. Static entries win.
func applySensitivities(cfg *config.Config, trig *trigger.Manager, estimator *intensity.Estimator, fetched map[string]float64) {
	merged := make(map[string]float64, len(fetched)+len(cfg.Sensitivity.Static))
	for k, v := range fetched {
		if v > 0 {
			merged[k] = v
		}
	}
	for k, v := range cfg.StaticSensitivities() {
		merged[k] = v
	}
	trig.SetSensitivities(merged)
	if estimator != nil {
		estimator.SetSensitivities(merged)
	}
}

func logStats(pipe *pipeline.Pipeline) {
	s := pipe.Status()
	logger.Info("Pipeline stats: %d packets, %d segments, %d decode errors, %d triggers, %d resets, %d open alerts",
		s.Stats.Packets, s.Stats.Segments, s.Stats.DecodeErrors, s.Stats.Triggers, s.Stats.Resets, len(s.Active))
}

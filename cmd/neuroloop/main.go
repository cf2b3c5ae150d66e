package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/satindergrewal/neuroloop/internal/config"
	"github.com/satindergrewal/neuroloop/internal/device"
	"github.com/satindergrewal/neuroloop/internal/loop"
	"github.com/satindergrewal/neuroloop/internal/stream"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(config.New()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(v *viper.Viper) *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "neuroloop",
		Short: "Closed-loop EEG-driven neurostimulation controller",
		Long: `neuroloop reads EEG windows from a headset (or a synthetic source),
maps their features to stimulation parameters and drives a serial
stimulator every cycle. Filtered bands are streamed for live display
over HTTP (NDJSON) and WebRTC.

Every flag can also be set as NEUROLOOP_<KEY> or in a YAML --config file.

Example:
  neuroloop --serial-port /dev/ttyACM0 --policy baseline-relative`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return readConfigFile(v, cfgFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), config.Load(v))
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file")
	root.PersistentFlags().String("presets-file", "", "YAML preset table (default: built-in)")
	_ = v.BindPFlag("presets_file", root.PersistentFlags().Lookup("presets-file"))

	f := root.Flags()
	f.Int("port", 8080, "HTTP port for status, control and band streams")
	f.String("serial-port", "/dev/ttyACM0", "stimulator serial port")
	f.Int("baud-rate", device.DefaultBaudRate, "stimulator baud rate")
	f.Duration("settle-delay", device.DefaultSettleDelay, "wait after opening the port")
	f.Duration("pacing-delay", device.DefaultPacingDelay, "wait after each command")
	f.Duration("cycle-interval", loop.DefaultCycleInterval, "time between control cycles")
	f.String("source", config.SourceSynthetic, "acquisition source: synthetic or mqtt")
	f.String("device-id", "muse2", "headset model")
	f.Float64("sample-rate", 256, "acquisition sample rate (Hz)")
	f.Int("window-size", 100, "samples per decision window")
	f.String("mqtt-broker", "tcp://localhost:1883", "MQTT broker for the mqtt source")
	f.String("mqtt-topic", "neuroloop/eeg/raw", "MQTT topic carrying raw samples")
	f.String("policy", "range-scaled", "fixed-threshold, baseline-relative or range-scaled")
	f.Int("preset", 3, "intensity preset 1-5")
	f.Float64("eeg-threshold", 200, "absolute mean above which the high frequency is used")
	f.Float64("scaling-factor", 0.02, "feature to parameter scale for range-scaled")
	f.Bool("indicator", true, "send the amplitude+duration indicator")
	f.Bool("policy-indicator", false, "send the threshold policy's tier indicator")
	f.String("led-style", "spaced", "indicator spelling: spaced (LED RED) or compact (LEDRED)")
	f.String("stop-command", "eoff", "emergency stop: eoff or ledoff")
	bindFlags(v, f.VisitAll)

	root.AddCommand(newPresetsCmd(v))
	return root
}

// bindFlags binds every flag to the viper key with dashes as underscores.
func bindFlags(v *viper.Viper, visit func(func(*pflag.Flag))) {
	visit(func(fl *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(fl.Name, "-", "_"), fl)
	})
}

func readConfigFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	log.Printf("Using config file: %s", v.ConfigFileUsed())
	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	presets, err := cfg.Presets()
	if err != nil {
		return err
	}
	policyCfg, err := cfg.PolicyConfig(presets)
	if err != nil {
		return err
	}

	log.Println("neuroloop starting up...")

	link, err := device.Open(ctx, cfg.LinkConfig(), device.SerialDialer)
	if err != nil {
		var unavailable *device.LinkUnavailableError
		if errors.As(err, &unavailable) {
			log.Printf("Stimulator not reachable on %s", unavailable.Port)
		}
		return err
	}

	// Broadcaster: fan-out filtered bands to all viewers
	bands := stream.NewBroadcaster()
	webrtcHandler := stream.NewWebRTCHandler(bands)
	defer webrtcHandler.Close()

	ctl := loop.New(loop.Config{
		SampleRate:    cfg.SampleRate,
		WindowSize:    cfg.WindowSize,
		CycleInterval: cfg.CycleInterval,
		Policy:        policyCfg,
	}, cfg.NewSource(), link, bands)

	api := &api{loop: ctl, device: link, presets: presets, bands: bands, webrtc: webrtcHandler}
	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{Addr: addr, Handler: api.routes()}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serverErr := make(chan error, 1)
	go func() {
		log.Printf("neuroloop live on %s (run %s, source %s)", addr, ctl.RunID(), cfg.Source)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- err
			cancel()
		}
		close(serverErr)
	}()

	loopErr := ctl.Run(ctx)

	log.Println("Shutting down...")
	server.Close()
	if err := <-serverErr; err != nil {
		loopErr = errors.Join(loopErr, fmt.Errorf("HTTP server: %w", err))
	}
	return loopErr
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"arbiterd/internal/arbiter"
	"arbiterd/internal/config"
	"arbiterd/internal/httpapi"
	"arbiterd/internal/switcher"
	"arbiterd/internal/vram"
)

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func setupLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("app", "arbiterd").Logger()
}

func main() {
	// Best-effort: a missing .env is the common case.
	_ = godotenv.Load()

	var (
		cfgPath        string
		addr           string
		controlPlane   string
		textGenURL     string
		imageGenURL    string
		corsOrigins    string
		waitTimeoutSec int
		settleDelaySec int
		vramThreshold  float64
		vramMinFreeMB  int
		vramDisabled   bool
		logLevel       string
	)

	root := &cobra.Command{
		Use:           "arbiterd",
		Short:         "GPU arbitration daemon for mutually exclusive model services",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := setupLogger(logLevel)

			var fileCfg config.Config
			if cfgPath != "" {
				var err error
				fileCfg, err = config.Load(cfgPath)
				if err != nil {
					return err
				}
				log.Info().Str("path", cfgPath).Msg("config file loaded")
			}
			// Precedence: flag > env > file > built-in default. Env values
			// arrive as flag defaults, so the file only fills slots neither
			// the command line nor the environment touched.
			unset := func(flag, env string) bool {
				return !cmd.Flags().Changed(flag) && os.Getenv(env) == ""
			}
			if unset("addr", "ARBITERD_ADDR") && fileCfg.Addr != "" {
				addr = fileCfg.Addr
			}
			if unset("control-plane-url", "ARBITERD_CONTROL_PLANE_URL") && fileCfg.ControlPlaneURL != "" {
				controlPlane = fileCfg.ControlPlaneURL
			}
			if unset("textgen-url", "ARBITERD_TEXTGEN_URL") && fileCfg.TextGenURL != "" {
				textGenURL = fileCfg.TextGenURL
			}
			if unset("imagegen-url", "ARBITERD_IMAGEGEN_URL") && fileCfg.ImageGenURL != "" {
				imageGenURL = fileCfg.ImageGenURL
			}
			if unset("wait-timeout-sec", "ARBITERD_WAIT_TIMEOUT_SEC") && fileCfg.WaitTimeoutSec > 0 {
				waitTimeoutSec = fileCfg.WaitTimeoutSec
			}
			if unset("settle-delay-sec", "ARBITERD_SETTLE_DELAY_SEC") && fileCfg.SettleDelaySec > 0 {
				settleDelaySec = fileCfg.SettleDelaySec
			}
			if !cmd.Flags().Changed("vram-threshold") && fileCfg.VRAMThresholdPercent > 0 {
				vramThreshold = fileCfg.VRAMThresholdPercent
			}
			if unset("vram-min-free-mb", "ARBITERD_VRAM_MIN_FREE_MB") && fileCfg.VRAMMinFreeMB > 0 {
				vramMinFreeMB = fileCfg.VRAMMinFreeMB
			}
			if !cmd.Flags().Changed("disable-vram-monitor") && fileCfg.VRAMMonitorDisabled {
				vramDisabled = true
			}
			origins := splitCSV(corsOrigins)
			if unset("cors-origins", "ARBITERD_CORS_ORIGINS") && len(fileCfg.CORSOrigins) > 0 {
				origins = fileCfg.CORSOrigins
			}

			monitor := vram.NewMonitor(vram.MonitorConfig{
				Disabled:         vramDisabled,
				ThresholdPercent: vramThreshold,
				MinFreeMB:        vramMinFreeMB,
			}, log.With().Str("component", "vram").Logger())

			sw := switcher.New(switcher.SwitcherConfig{
				ControlPlaneURL: controlPlane,
				TextGenURL:      textGenURL,
				ImageGenURL:     imageGenURL,
			}, log.With().Str("component", "switcher").Logger())

			arb := arbiter.New(sw, monitor, arbiter.ArbiterConfig{
				PriorityTextGen:  fileCfg.PriorityTextGen,
				PriorityImageGen: fileCfg.PriorityImageGen,
				WaitTimeout:      time.Duration(waitTimeoutSec) * time.Second,
				SettleDelay:      time.Duration(settleDelaySec) * time.Second,
			}, log.With().Str("component", "arbiter").Logger())

			httpapi.SetLogger(log.With().Str("component", "http").Logger())
			if len(origins) > 0 {
				httpapi.SetCORSOptions(true, origins,
					[]string{http.MethodGet, http.MethodOptions},
					[]string{"Accept", "Content-Type"})
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           httpapi.NewMux(arb, monitor),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("arbiterd listening")
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				log.Warn().Err(err).Msg("graceful shutdown error")
			}
			return nil
		},
	}

	flags := root.Flags()
	flags.StringVar(&cfgPath, "config", envStr("ARBITERD_CONFIG", ""), "Optional config file (.yaml/.json/.toml)")
	flags.StringVar(&addr, "addr", envStr("ARBITERD_ADDR", ":8085"), "HTTP listen address")
	flags.StringVar(&controlPlane, "control-plane-url", envStr("ARBITERD_CONTROL_PLANE_URL", "http://localhost:8081"), "Process management API base URL")
	flags.StringVar(&textGenURL, "textgen-url", envStr("ARBITERD_TEXTGEN_URL", "http://localhost:11434"), "Text generation service base URL")
	flags.StringVar(&imageGenURL, "imagegen-url", envStr("ARBITERD_IMAGEGEN_URL", "http://localhost:8188"), "Image generation service base URL")
	flags.StringVar(&corsOrigins, "cors-origins", envStr("ARBITERD_CORS_ORIGINS", ""), "Comma-separated allowed CORS origins")
	flags.IntVar(&waitTimeoutSec, "wait-timeout-sec", envInt("ARBITERD_WAIT_TIMEOUT_SEC", 0), "Default wait budget in seconds (0=built-in default)")
	flags.IntVar(&settleDelaySec, "settle-delay-sec", envInt("ARBITERD_SETTLE_DELAY_SEC", 0), "Post-switch settle delay in seconds (0=built-in default)")
	flags.Float64Var(&vramThreshold, "vram-threshold", 0, "VRAM usage percent above which requests wait (0=built-in default)")
	flags.IntVar(&vramMinFreeMB, "vram-min-free-mb", envInt("ARBITERD_VRAM_MIN_FREE_MB", 0), "Minimum free VRAM in MB (0=built-in default)")
	flags.BoolVar(&vramDisabled, "disable-vram-monitor", false, "Skip VRAM gating entirely")
	flags.StringVar(&logLevel, "log-level", envStr("ARBITERD_LOG_LEVEL", "info"), "Log level: trace|debug|info|warn|error")

	if err := root.Execute(); err != nil {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Fatal().Err(err).Msg("arbiterd failed")
	}
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	u "net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/mirrordl/internal/downloader"
	"github.com/tanq16/mirrordl/internal/metrics"
	"github.com/tanq16/mirrordl/internal/output"
	"github.com/tanq16/mirrordl/internal/utils"
)

var (
	outputPath     string
	connections    int
	chunkSizeArg   string
	timeout        time.Duration
	connectTimeout time.Duration
	kaTimeout      time.Duration
	userAgent      string
	proxyURL       string
	proxyUsername  string
	proxyPassword  string
	headers        []string
	metricsAddr    string
	preallocate    bool
	logFile        string
	debug          bool
)

var MirrordlVersion = "dev"

var rootCmd = &cobra.Command{
	Use:   "mirrordl [URL | MIRROR_LIST_FILE]... [OPTIONS]",
	Short: "mirrordl downloads one file from several mirrors at once and resumes where it stopped",
	Long: `mirrordl splits a remote file into fixed-size chunks and fetches them in parallel,
spreading connections across every mirror given. Progress is saved next to the
output file so an interrupted download continues from the last written chunk.

Mirrors can be given as URLs, as a text file with one URL per line, or as a
YAML file with a "mirrors" list.`,
	Version: MirrordlVersion,
	Args:    cobra.MinimumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		if logFile != "" {
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("error opening log file: %w", err)
			}
			utils.SetLogOutput(f)
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		sink := output.NewConsole(os.Stdout)
		mirrors, err := collectMirrors(args)
		if err != nil {
			sink.Error("Invalid mirror input", err)
			os.Exit(1)
		}
		chunkSize, err := utils.ParseSize(chunkSizeArg)
		if err != nil {
			sink.Error("Invalid chunk size", err)
			os.Exit(1)
		}
		cfg := downloader.Config{
			Mirrors:          mirrors,
			Connections:      connections,
			ChunkSize:        chunkSize,
			OutputPath:       outputPath,
			HTTPClientConfig: buildHTTPClientConfig(),
			PollInterval:     utils.DefaultPollInterval,
			Preallocate:      preallocate,
		}
		if err := cfg.Validate(); err != nil {
			sink.Error("Invalid configuration", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			sink.Warning("Received interrupt, saving progress and stopping", nil)
			cancel()
		}()

		if metricsAddr != "" {
			cfg.Metrics = metrics.New()
			go func() {
				if err := cfg.Metrics.Serve(ctx, metricsAddr); err != nil {
					log := utils.GetLogger("metrics")
					log.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server stopped")
				}
			}()
		}

		if _, err := downloader.Download(ctx, cfg, sink); err != nil {
			if errors.Is(err, context.Canceled) {
				os.Exit(130)
			}
			os.Exit(1)
		}
	},
}

// collectMirrors accepts URLs and mirror list files in any mix.
func collectMirrors(args []string) ([]string, error) {
	var mirrors []string
	for _, arg := range args {
		if utils.IsURL(arg) {
			mirrors = append(mirrors, arg)
			continue
		}
		if _, err := os.Stat(arg); err != nil {
			return nil, fmt.Errorf("%q is neither a URL nor a readable mirror list: %w", arg, err)
		}
		list, err := utils.ReadMirrorList(arg)
		if err != nil {
			return nil, err
		}
		mirrors = append(mirrors, list...)
	}
	return mirrors, nil
}

func buildHTTPClientConfig() utils.HTTPClientConfig {
	if userAgent == "randomize" {
		userAgent = utils.GetRandomUserAgent()
	}
	// Check if proxy URL contains auth
	parsedProxy, err := u.Parse(proxyURL)
	if err == nil && parsedProxy.User != nil && proxyUsername == "" {
		proxyUsername = parsedProxy.User.Username()
		if password, set := parsedProxy.User.Password(); set {
			proxyPassword = password
		}
		parsedProxy.User = nil
		proxyURL = parsedProxy.String()
	}
	return utils.HTTPClientConfig{
		Timeout:        timeout,
		ConnectTimeout: connectTimeout,
		KATimeout:      kaTimeout,
		ProxyURL:       proxyURL,
		ProxyUsername:  proxyUsername,
		ProxyPassword:  proxyPassword,
		UserAgent:      userAgent,
		Headers:        utils.ParseHeaderArgs(headers),
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the server or URL if not provided)")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", utils.DefaultConnections, "Number of parallel connections, spread across mirrors (above 5 enables high-thread-mode)")
	rootCmd.Flags().StringVarP(&chunkSizeArg, "chunk-size", "s", "1MB", "Chunk size (eg. 64KB, 1MB, 4M)")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", utils.DefaultTimeout, "Per-request timeout (eg. 5s, 10m)")
	rootCmd.Flags().DurationVar(&connectTimeout, "connect-timeout", utils.DefaultConnectTimeout, "Connect and response header timeout")
	rootCmd.Flags().DurationVarP(&kaTimeout, "keep-alive-timeout", "k", utils.DefaultKATimeout, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent ('randomize' picks a browser agent)")
	rootCmd.Flags().StringVarP(&proxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL (e.g., proxy.example.com:8080)")
	rootCmd.Flags().StringVar(&proxyUsername, "proxy-username", "", "Proxy username (if not provided in proxy URL)")
	rootCmd.Flags().StringVar(&proxyPassword, "proxy-password", "", "Proxy password (if not provided in proxy URL)")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (eg. :9090)")
	rootCmd.Flags().BoolVar(&preallocate, "preallocate", false, "Size a fresh output file to its final length before writing")

	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newVersionCmd())
}

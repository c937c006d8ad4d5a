package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tobsai/inksight/internal/cloudchannel"
	"github.com/tobsai/inksight/internal/prober"
	"github.com/tobsai/inksight/internal/router"
	"github.com/tobsai/inksight/internal/sshchannel"
)

// Global persistent flags, bound in newRootCmd. Environment variables
// (INKSIGHT_*) supply defaults; flags override them.
var (
	flagMode        string
	flagHost        string
	flagPort        int
	flagUser        string
	flagPassword    string
	flagKeyPath     string
	flagCloudHost   string
	flagDeviceToken string
	flagTokenURL    string
	flagAPIBase     string
	flagCacheDir    string
	flagVerbose     bool
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "inksightd",
		Short:         "Sync tablet notes into a local cache",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagMode, "mode", envOr("INKSIGHT_CONNECTION_MODE", "hybrid-ssh-first"),
		"access mode: ssh-only, cloud-only, hybrid-ssh-first, hybrid-cloud-first")
	pf.StringVar(&flagHost, "host", envOr("INKSIGHT_SSH_HOST", "10.11.99.1"), "device SSH host")
	pf.IntVar(&flagPort, "port", 22, "device SSH port")
	pf.StringVar(&flagUser, "user", envOr("INKSIGHT_SSH_USER", "root"), "device SSH user")
	pf.StringVar(&flagPassword, "password", os.Getenv("INKSIGHT_SSH_PASSWORD"), "device SSH password")
	pf.StringVar(&flagKeyPath, "key", os.Getenv("INKSIGHT_SSH_KEY"), "device SSH private key path")
	pf.StringVar(&flagCloudHost, "cloud-host", envOr("INKSIGHT_CLOUD_HOST", "webapp.cloud.remarkable.com"),
		"cloud hostname probed for reachability")
	pf.StringVar(&flagDeviceToken, "device-token", os.Getenv("INKSIGHT_CLOUD_DEVICE_TOKEN"),
		"pre-provisioned cloud device token")
	pf.StringVar(&flagTokenURL, "token-url", envOr("INKSIGHT_CLOUD_TOKEN_URL",
		"https://webapp.cloud.remarkable.com/token/json/2/user/new"), "cloud token exchange endpoint")
	pf.StringVar(&flagAPIBase, "api-base", envOr("INKSIGHT_CLOUD_API_BASE",
		"https://webapp.cloud.remarkable.com"), "cloud API base URL")
	pf.StringVar(&flagCacheDir, "cache-dir", envOr("INKSIGHT_CACHE_DIR", defaultCacheDir()),
		"local document cache directory")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newStatusCmd(), newSyncCmd(), newWatchCmd())

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inksight"
	}

	return filepath.Join(home, ".inksight", "cache")
}

func buildLogger() *slog.Logger {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app bundles the wired core components for one command invocation.
type app struct {
	logger *slog.Logger
	device *sshchannel.Channel
	router *router.Router
}

func buildApp() (*app, error) {
	mode, err := router.ParseAccessMode(flagMode)
	if err != nil {
		return nil, err
	}

	logger := buildLogger()

	device := sshchannel.New(sshchannel.Config{
		Host:           flagHost,
		Port:           flagPort,
		Username:       flagUser,
		Password:       flagPassword,
		PrivateKeyPath: flagKeyPath,
		Logger:         logger,
	})

	cloud := cloudchannel.New(cloudchannel.Config{
		DeviceToken:      flagDeviceToken,
		TokenExchangeURL: flagTokenURL,
		APIBaseURL:       flagAPIBase,
		Logger:           logger,
	})

	rt := router.New(device, cloud, prober.New(), router.Config{
		Mode:      mode,
		SshHost:   flagHost,
		SshPort:   flagPort,
		CloudHost: flagCloudHost,
		Logger:    logger,
		OnStatusChange: func(s router.ConnectivityStatus) {
			fmt.Fprintf(os.Stderr, "connectivity: %s\n", s)
		},
	})

	return &app{logger: logger, device: device, router: rt}, nil
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/qqbridge/internal/bus"
	"github.com/dayuer/qqbridge/internal/config"
	"github.com/dayuer/qqbridge/internal/host"
	"github.com/dayuer/qqbridge/internal/lane"
	"github.com/dayuer/qqbridge/internal/logger"
	"github.com/dayuer/qqbridge/internal/redis"
	"github.com/dayuer/qqbridge/internal/session"
	"github.com/dayuer/qqbridge/internal/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show qqbridge configuration and connectivity status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Println("qqbridge Status")
	fmt.Println()
	fmt.Printf("Config: %s\n", config.GetConfigPath())

	mode := lane.ParseMode(cfg.Host.Mode)
	fmt.Printf("Lane mode: %s (%s)\n", mode, mode.Describe())

	fmt.Println("\nAccounts:")
	accounts := resolveAccounts(cfg)
	if len(accounts) == 0 {
		fmt.Println("  (none configured — run qqbridge onboard)")
	}
	for _, a := range accounts {
		fmt.Printf("  %s: %s (token %s)\n", a.ID, a.URL, maskToken(a.AccessToken))
	}

	if pid, ok := getRunningPID(); ok {
		fmt.Printf("\nGateway: running (PID %d)\n", pid)
	} else {
		fmt.Println("\nGateway: not running")
	}

	fmt.Println("\nHost:")
	if cfg.Host.APIURL == "" {
		fmt.Println("  not configured")
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		client := host.NewClient(cfg.Host, logger.Named("host"))
		if err := client.Ping(ctx); err != nil {
			fmt.Printf("  %s — unreachable (%v)\n", cfg.Host.APIURL, err)
		} else {
			fmt.Printf("  %s — ok\n", cfg.Host.APIURL)
		}
	}

	fmt.Println("\nRedis:")
	if cfg.Redis.URL == "" {
		fmt.Println("  not configured (snapshots disabled)")
	} else if redis.Init(redis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB}) {
		fmt.Printf("  %s — ok\n", cfg.Redis.URL)
		defer redis.Close()
	} else {
		fmt.Printf("  %s — unreachable\n", cfg.Redis.URL)
	}

	sessions := session.NewManager(utils.GetDataPath()).List()
	fmt.Printf("\nSessions on disk: %d\n", len(sessions))
	if len(sessions) > 0 {
		latest := sessions[0]
		fmt.Printf("  latest: %s (updated %s)\n", latest.Key, latest.UpdatedAt.Format("2006-01-02 15:04:05"))

		// With Redis up, the snapshot shows what that session last received.
		var snap bus.InboundMessage
		if redis.GetJSON(context.Background(), redis.SessionKey(latest.Key), &snap) {
			fmt.Printf("  last inbound: %q from %s\n", utils.TruncateString(snap.Content, 60, "…"), snap.SenderID)
		}
	}

	return nil
}

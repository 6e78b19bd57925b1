package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/bus"
	"github.com/dayuer/qqbridge/internal/channels"
	"github.com/dayuer/qqbridge/internal/config"
	"github.com/dayuer/qqbridge/internal/host"
	"github.com/dayuer/qqbridge/internal/lane"
	"github.com/dayuer/qqbridge/internal/logger"
	"github.com/dayuer/qqbridge/internal/redis"
	"github.com/dayuer/qqbridge/internal/session"
	"github.com/dayuer/qqbridge/internal/utils"
)

// snapshotTTL bounds how long the latest context of an idle session stays
// in Redis.
const snapshotTTL = 24 * time.Hour

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the qqbridge gateway (QQ accounts + host bridge)",
	RunE:  runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load("")
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Init(cfg.Log.Debug)
	defer logger.Sync()
	log := logger.Named("gateway")

	accounts := resolveAccounts(cfg)
	if len(accounts) == 0 {
		return fmt.Errorf("no QQ accounts configured — set channel.onebot.url in %s or add %s (run: qqbridge onboard)",
			config.GetConfigPath(), config.GetAccountsPath())
	}

	msgBus := bus.NewMessageBus()
	chMgr := channels.NewManager(msgBus)
	chMgr.Register(channels.NewOneBotChannel(accounts, msgBus))

	hostClient := host.NewClient(cfg.Host, logger.Named("host"))
	if !hostClient.Configured() {
		log.Warnf("host.apiUrl not configured; triggered messages will be recorded but not answered")
	}
	sessions := session.NewManager(utils.GetDataPath())

	if redis.Init(redis.Config{URL: cfg.Redis.URL, Password: cfg.Redis.Password, DB: cfg.Redis.DB}) {
		log.Infof("redis connected")
		defer redis.Close()
	}

	lanes := lane.NewManager(lane.ManagerConfig{
		Handler:       chatHandler(hostClient, sessions, msgBus, accounts[0].ReportErrors),
		Mode:          lane.ParseMode(cfg.Host.Mode),
		CollectWindow: time.Duration(cfg.Host.CollectWindow) * time.Second,
	})
	defer lanes.Stop()

	// PID file covers foreground runs too, so `qqbridge gateway status`
	// always finds the process.
	writePID(os.Getpid())
	defer removePID()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		in, out := msgBus.Pending()
		if st := lanes.Stats(); in+out > 0 || st.Active > 0 {
			log.Warnf("shutting down with %d inbound / %d outbound queued, %d lane(s) mid-request", in, out, st.Active)
		} else {
			log.Infof("shutting down")
		}
		chMgr.StopAll()
		cancel()
	}()

	// Inbound pump: triggered contexts queue on their session's lane.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgBus.Inbound:
				lanes.Submit(msg)
			}
		}
	}()

	fmt.Printf("qqbridge gateway running: channels %s, %d account(s), lane mode %q\n",
		strings.Join(chMgr.Names(), ", "), len(accounts), lane.ParseMode(cfg.Host.Mode))
	return chMgr.StartAll(ctx)
}

// chatHandler builds the lane handler: record the user turn, snapshot the
// session, call the host, route replies back through the bus.
func chatHandler(client *host.Client, sessions *session.Manager, msgBus *bus.MessageBus, reportErrors bool) lane.Handler {
	log := logger.Named("gateway")
	return func(ctx context.Context, msg bus.InboundMessage) error {
		sess := sessions.GetOrCreate(msg.SessionKey())
		var extra map[string]any
		if msg.ChatType != "direct" {
			extra = map[string]any{"sender_id": msg.SenderID, "sender_name": msg.SenderName}
		}
		sess.AddMessageExtra("user", msg.Content, extra)

		redis.SetJSON(ctx, redis.SessionKey(msg.SessionKey()), msg, snapshotTTL)

		if !client.Configured() {
			saveSession(log, sessions, sess)
			return nil
		}

		replies, err := client.Chat(ctx, msg)
		if err != nil {
			if reportErrors {
				msgBus.PublishOutbound(bus.OutboundMessage{
					Channel: msg.Channel,
					Account: msg.Account,
					ChatID:  msg.ChatID,
					Content: "服务调用失败，请稍后再试",
				})
			}
			saveSession(log, sessions, sess)
			return fmt.Errorf("host chat: %w", err)
		}

		at := ""
		if msg.ChatType == "group" {
			at = msg.SenderID
		}
		for _, r := range replies {
			if r.Text != "" {
				sess.AddMessage("assistant", r.Text)
			}
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				Account: msg.Account,
				ChatID:  msg.ChatID,
				Content: r.Text,
				At:      at,
				Media:   r.Media,
				Voice:   r.Voice,
			})
		}
		saveSession(log, sessions, sess)
		return nil
	}
}

func saveSession(log *zap.SugaredLogger, sessions *session.Manager, sess *session.Session) {
	if err := sessions.Save(sess); err != nil {
		log.Warnf("save session %s: %v", sess.Key, err)
	}
}

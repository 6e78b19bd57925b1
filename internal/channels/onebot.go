package channels

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/dayuer/qqbridge/internal/bus"
	"github.com/dayuer/qqbridge/internal/codeimg"
	"github.com/dayuer/qqbridge/internal/config"
	"github.com/dayuer/qqbridge/internal/logger"
	"github.com/dayuer/qqbridge/internal/onebot"
)

const oneBotChannelName = "qq"

// OneBotChannel bridges QQ bot accounts speaking OneBot v11 onto the
// message bus. Each configured account runs its own connection and serial
// pipeline; the channel fans their triggered messages in and routes
// outbound replies back to the owning account.
type OneBotChannel struct {
	*BaseChannel
	cfgs     []config.Account
	renderer *codeimg.Renderer

	mu       sync.RWMutex
	accounts map[string]*onebot.Account

	stopOnce sync.Once
	log      *zap.SugaredLogger
}

// NewOneBotChannel creates the channel from resolved account configs.
func NewOneBotChannel(cfgs []config.Account, msgBus *bus.MessageBus) *OneBotChannel {
	log := logger.Named("onebot")
	script := ""
	if len(cfgs) > 0 {
		script = cfgs[0].CodeImageScript
	}
	return &OneBotChannel{
		BaseChannel: &BaseChannel{
			ChannelName: oneBotChannelName,
			Bus:         msgBus,
		},
		cfgs:     cfgs,
		renderer: codeimg.New(script, log),
		accounts: make(map[string]*onebot.Account),
		log:      log,
	}
}

// Name returns the channel identifier.
func (ch *OneBotChannel) Name() string {
	return oneBotChannelName
}

// Start connects every configured account and blocks until ctx is
// cancelled.
func (ch *OneBotChannel) Start(ctx context.Context) error {
	if len(ch.cfgs) == 0 {
		return errors.New("no onebot accounts configured")
	}

	ch.mu.Lock()
	for _, cfg := range ch.cfgs {
		acct := onebot.NewAccount(accountConfig(cfg), ch.publish, ch.log)
		acct.Start()
		ch.accounts[cfg.ID] = acct
	}
	ch.mu.Unlock()

	ch.SetRunning(true)
	ch.log.Infof("started with %d account(s)", len(ch.cfgs))

	<-ctx.Done()
	return ch.Stop()
}

// Stop disconnects every account. Safe to call more than once.
func (ch *OneBotChannel) Stop() error {
	ch.stopOnce.Do(func() {
		ch.mu.RLock()
		defer ch.mu.RUnlock()
		for _, acct := range ch.accounts {
			acct.Stop()
		}
		ch.SetRunning(false)
	})
	return nil
}

// publish converts one triggered account context into a bus message.
func (ch *OneBotChannel) publish(c onebot.Context) {
	ch.HandleMessage(bus.InboundMessage{
		Account:    c.AccountID,
		SenderID:   strconv.FormatInt(c.SenderID, 10),
		SenderName: c.SenderName,
		ChatID:     c.Target.String(),
		ChatType:   c.ChatType,
		Content:    c.Text,
		RawContent: c.RawText,
		MessageID:  c.MessageID,
		ReplyToID:  c.ReplyToID,
		ReplyText:  c.ReplyText,
		Timestamp:  c.Time,
		Media:      c.Media,
	})
}

// Send routes an outbound payload to its account. Long code blocks are
// rendered to images first when a renderer is configured. Text goes out
// before attachments so the marker order reads naturally.
func (ch *OneBotChannel) Send(msg bus.OutboundMessage) error {
	acct := ch.account(msg.Account)
	if acct == nil {
		return fmt.Errorf("onebot: no account for %q", msg.Account)
	}

	ctx := context.Background()
	text := msg.Content
	media := msg.Media
	if ch.renderer.Enabled() {
		var images []string
		text, images = ch.renderer.Extract(ctx, text)
		media = append(images, media...)
	}

	var firstErr error
	if text != "" {
		atUser, _ := strconv.ParseInt(msg.At, 10, 64)
		if err := acct.SendText(ctx, msg.ChatID, text, atUser, msg.Voice); err != nil {
			firstErr = fmt.Errorf("send text to %s: %w", msg.ChatID, err)
		}
	}
	for _, path := range media {
		if err := acct.SendMedia(ctx, msg.ChatID, path); err != nil {
			ch.log.Warnf("send media %s to %s: %v", path, msg.ChatID, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("send media to %s: %w", msg.ChatID, err)
			}
		}
	}
	return firstErr
}

// DeleteMessage revokes a previously sent message on the given account.
func (ch *OneBotChannel) DeleteMessage(account, messageID string) error {
	acct := ch.account(account)
	if acct == nil {
		return fmt.Errorf("onebot: no account for %q", account)
	}
	return acct.DeleteMessage(context.Background(), messageID)
}

// AccountStats snapshots connection health for every account.
func (ch *OneBotChannel) AccountStats() []onebot.AccountStats {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	stats := make([]onebot.AccountStats, 0, len(ch.accounts))
	for _, acct := range ch.accounts {
		stats = append(stats, acct.Stats())
	}
	return stats
}

// account resolves an outbound payload to a started account: the named
// one, else the sole account, else the one called "default".
func (ch *OneBotChannel) account(id string) *onebot.Account {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	if id != "" {
		return ch.accounts[id]
	}
	if len(ch.accounts) == 1 {
		for _, acct := range ch.accounts {
			return acct
		}
	}
	return ch.accounts["default"]
}

func accountConfig(cfg config.Account) onebot.AccountConfig {
	return onebot.AccountConfig{
		ID:          cfg.ID,
		URL:         cfg.URL,
		AccessToken: cfg.AccessToken,

		TriggerWords:   cfg.TriggerWords,
		RequireMention: cfg.RequireMention,
		AllowFrom:      cfg.AllowFrom,
		AllowedGroups:  cfg.AllowedGroups,
		BlockedUsers:   cfg.BlockedUsers,

		ChunkSize:       cfg.ChunkSize,
		FlattenMarkdown: cfg.FlattenMarkdown,
		AntiThrottle:    cfg.AntiThrottle,
		VoiceReply:      cfg.VoiceReply,
		VoiceMaxRunes:   cfg.VoiceMaxRunes,

		MediaDir: cfg.MediaDir,
	}
}

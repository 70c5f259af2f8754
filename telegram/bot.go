package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	client "github.com/zelenin/go-tdlib/client"

	"sip2gate/gate"
)

// Gate is the controller surface the bot drives.
type Gate interface {
	TryOpenGate(ctx context.Context) (bool, error)
	InFlight() bool
	Config() gate.Config
	Status() *gate.StatusBroadcaster
}

var _ Gate = (*gate.Controller)(nil)

// Bot answers /open and /status from allowed users. While a call it started
// is running, status changes are reported to the chat it came from.
type Bot struct {
	client   *client.Client
	gate     Gate
	contacts *ContactCache
	allowed  []string
	log      *logrus.Entry

	mu         sync.Mutex
	reportChat int64
}

// NewBot returns a bot that accepts commands from the listed usernames or
// phone numbers only.
func NewBot(cl *client.Client, g Gate, allowed []string, log *logrus.Entry) *Bot {
	return &Bot{
		client:   cl,
		gate:     g,
		contacts: NewContactCache(),
		allowed:  allowed,
		log:      log,
	}
}

// Run handles updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	if len(b.allowed) == 0 {
		b.log.Warn("no allowed_users configured, every command will be refused")
	}
	if err := b.contacts.Refresh(b.client); err != nil {
		b.log.Warnf("initial contacts load failed: %v", err)
	}
	go b.refreshContactsLoop(ctx)

	handle := b.gate.Status().Subscribe(b.Observe)
	defer b.gate.Status().Unsubscribe(handle)

	listener := b.client.GetListener()
	defer listener.Close()

	for {
		select {
		case update, ok := <-listener.Updates:
			if !ok {
				return nil
			}
			switch u := update.(type) {
			case *client.UpdateNewMessage:
				b.handleMessage(ctx, u.Message)
			case *client.UpdateUser:
				b.contacts.Update(u.User)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bot) refreshContactsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.contacts.Refresh(b.client); err != nil {
				b.log.Warnf("contact refresh failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *client.Message) {
	if msg == nil || msg.IsOutgoing {
		return
	}
	text, ok := msg.Content.(*client.MessageText)
	if !ok || text.Text == nil {
		return
	}
	sender, ok := msg.SenderId.(*client.MessageSenderUser)
	if !ok {
		return
	}

	cmd := command(text.Text.Text)
	if cmd == "" {
		return
	}
	log := b.log.WithField("user", sender.UserId)
	if !b.isAllowed(sender.UserId) {
		log.Warnf("refusing /%s from user not in allowed_users", cmd)
		return
	}

	switch cmd {
	case "open":
		b.open(ctx, msg.ChatId, log)
	case "status":
		b.reply(msg.ChatId, b.describe())
	default:
		b.reply(msg.ChatId, "Commands: /open, /status")
	}
}

func (b *Bot) open(ctx context.Context, chatID int64, log *logrus.Entry) {
	if b.gate.InFlight() {
		b.reply(chatID, "A call to the gate is already in progress.")
		return
	}
	log.Info("gate opening requested via Telegram")

	b.mu.Lock()
	if b.reportChat == 0 {
		b.reportChat = chatID
	}
	b.mu.Unlock()

	go func() {
		started, err := b.gate.TryOpenGate(ctx)

		b.mu.Lock()
		if b.reportChat == chatID {
			b.reportChat = 0
		}
		b.mu.Unlock()

		switch {
		case !started:
			b.reply(chatID, "A call to the gate is already in progress.")
		case err != nil:
			b.reply(chatID, fmt.Sprintf("Could not open the gate: %v", err))
		default:
			b.reply(chatID, "Gate call completed.")
		}
	}()
}

// Observe is a gate.Observer reporting progress to the triggering chat.
func (b *Bot) Observe(status gate.Status) {
	b.mu.Lock()
	chatID := b.reportChat
	b.mu.Unlock()
	if chatID == 0 || status == gate.StatusIdle {
		return
	}
	b.reply(chatID, "Gate call: "+status.DisplayName())
}

func (b *Bot) describe() string {
	cfg := b.gate.Config()
	return fmt.Sprintf("Gate call status: %s\nGate number: %s\nSIP server: %s",
		b.gate.Status().Current().DisplayName(), cfg.Number, cfg.Server)
}

func (b *Bot) isAllowed(userID int64) bool {
	for _, ref := range b.allowed {
		id, ok := b.contacts.Resolve(ref)
		if !ok {
			id, ok = b.contacts.SearchAndAdd(b.client, ref)
		}
		if ok && id == userID {
			return true
		}
	}
	return false
}

func (b *Bot) reply(chatID int64, text string) {
	_, err := b.client.SendMessage(&client.SendMessageRequest{
		ChatId: chatID,
		InputMessageContent: &client.InputMessageText{
			Text: &client.FormattedText{Text: text},
		},
	})
	if err != nil {
		b.log.Warnf("send message to chat %d: %v", chatID, err)
	}
}

// command extracts "open" from "/open" or "/open@botname".
func command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	name, _, _ := strings.Cut(fields[0][1:], "@")
	return strings.ToLower(name)
}

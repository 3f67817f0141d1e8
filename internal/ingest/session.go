package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/updates"
	updhook "github.com/gotd/td/telegram/updates/hook"
	"github.com/gotd/td/tg"

	"github.com/MikeSquared-Agency/tokenpulse/internal/store"
)

// SessionOptions configures a user-account (MTProto) listener.
type SessionOptions struct {
	APIID       int
	APIHash     string
	Phone       string
	Password    string
	SessionFile string

	// Prompt asks the operator for a value the environment did not supply.
	// It is used for the phone number, the login code and the 2FA password.
	Prompt func(ctx context.Context, label string) (string, error)
}

// SessionListener logs in as a user account and writes every new message
// from the chats the account can see.
type SessionListener struct {
	opts   SessionOptions
	writer *Writer
	logger *slog.Logger
}

func NewSessionListener(opts SessionOptions, w *Writer, logger *slog.Logger) *SessionListener {
	return &SessionListener{opts: opts, writer: w, logger: logger}
}

// Run connects, authenticates if the session file holds no login, and
// listens until ctx is cancelled.
func (l *SessionListener) Run(ctx context.Context) error {
	gaps := updates.New(updates.Config{Handler: l.dispatcher()})

	client := telegram.NewClient(l.opts.APIID, l.opts.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: l.opts.SessionFile},
		UpdateHandler:  gaps,
		Middlewares:    []telegram.Middleware{updhook.UpdateHook(gaps.Handle)},
	})

	return client.Run(ctx, func(ctx context.Context) error {
		if err := client.Auth().IfNecessary(ctx, l.authFlow()); err != nil {
			return fmt.Errorf("telegram auth: %w", err)
		}
		self, err := client.Self(ctx)
		if err != nil {
			return fmt.Errorf("telegram self: %w", err)
		}

		err = gaps.Run(ctx, client.API(), self.ID, updates.AuthOptions{
			OnStart: func(context.Context) {
				l.logger.Info("telegram session connected", "username", self.Username, "id", self.ID)
			},
		})
		l.logger.Info("telegram session listener stopping")
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("telegram updates: %w", err)
		}
		return nil
	})
}

// dispatcher routes new private, group and channel messages to the writer.
// The updates manager in front of it expands short updates into
// UpdateNewMessage, so the two handlers see every message shape.
func (l *SessionListener) dispatcher() tg.UpdateDispatcher {
	d := tg.NewUpdateDispatcher()
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		l.handle(ctx, e, u.Message)
		return nil
	})
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		l.handle(ctx, e, u.Message)
		return nil
	})
	return d
}

func (l *SessionListener) authFlow() auth.Flow {
	return auth.NewFlow(promptAuth{
		UserAuthenticator: auth.Constant(l.opts.Phone, l.opts.Password, nil),
		phone:             l.opts.Phone,
		password:          l.opts.Password,
		prompt:            l.opts.Prompt,
	}, auth.SendCodeOptions{})
}

// promptAuth answers from the environment first and asks the operator only
// when Telegram actually requests a value, so a saved session starts
// without touching the terminal.
type promptAuth struct {
	auth.UserAuthenticator
	phone    string
	password string
	prompt   func(ctx context.Context, label string) (string, error)
}

func (a promptAuth) Phone(ctx context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	if a.prompt == nil {
		return "", fmt.Errorf("phone number required but no prompt available")
	}
	return a.prompt(ctx, "Phone number")
}

func (a promptAuth) Password(ctx context.Context) (string, error) {
	if a.password != "" {
		return a.password, nil
	}
	if a.prompt == nil {
		return "", auth.ErrPasswordNotProvided
	}
	return a.prompt(ctx, "2FA password")
}

func (a promptAuth) Code(ctx context.Context, _ *tg.AuthSentCode) (string, error) {
	if a.prompt == nil {
		return "", fmt.Errorf("login code required but no prompt available")
	}
	return a.prompt(ctx, "Login code")
}

func (l *SessionListener) handle(ctx context.Context, e tg.Entities, mc tg.MessageClass) {
	msg, ok := mc.(*tg.Message)
	if !ok {
		return
	}
	m, altID, ok := messageFromMTProto(e, msg)
	if !ok {
		return
	}
	l.writer.Write(ctx, m, altID)
}

// messageFromMTProto maps an MTProto message. Chat ids use the Bot API
// convention (-id for groups, -100id for channels) so allowlists and rows
// match across sources; altID is the bare id Telegram clients display.
func messageFromMTProto(e tg.Entities, msg *tg.Message) (store.Message, string, bool) {
	if msg.PeerID == nil {
		return store.Message{}, "", false
	}

	var chatID, altID, title string
	switch p := msg.PeerID.(type) {
	case *tg.PeerUser:
		chatID = strconv.FormatInt(p.UserID, 10)
		altID = chatID
		if u, ok := e.Users[p.UserID]; ok {
			title = u.Username
		}
	case *tg.PeerChat:
		chatID = strconv.FormatInt(-p.ChatID, 10)
		altID = strconv.FormatInt(p.ChatID, 10)
		if c, ok := e.Chats[p.ChatID]; ok {
			title = c.Title
		}
	case *tg.PeerChannel:
		chatID = "-100" + strconv.FormatInt(p.ChannelID, 10)
		altID = strconv.FormatInt(p.ChannelID, 10)
		if c, ok := e.Channels[p.ChannelID]; ok {
			title = c.Title
			if title == "" {
				title = c.Username
			}
		}
	default:
		return store.Message{}, "", false
	}

	return store.Message{
		Source:        store.SourceSession,
		TelegramMsgID: strconv.Itoa(msg.ID),
		ChatID:        chatID,
		ChatTitle:     title,
		Username:      senderName(e, msg),
		Text:          msg.Message,
		Timestamp:     time.Unix(int64(msg.Date), 0).UTC(),
	}, altID, true
}

func senderName(e tg.Entities, msg *tg.Message) string {
	from, ok := msg.GetFromID()
	if !ok {
		// Channel posts carry no sender; the channel speaks for itself.
		from = msg.PeerID
	}
	switch p := from.(type) {
	case *tg.PeerUser:
		if u, ok := e.Users[p.UserID]; ok && u.Username != "" {
			return u.Username
		}
		return strconv.FormatInt(p.UserID, 10)
	case *tg.PeerChannel:
		if c, ok := e.Channels[p.ChannelID]; ok && c.Username != "" {
			return c.Username
		}
		return strconv.FormatInt(p.ChannelID, 10)
	case *tg.PeerChat:
		return strconv.FormatInt(p.ChatID, 10)
	}
	return ""
}

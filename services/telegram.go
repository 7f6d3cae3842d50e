package services

import (
	context2 "context"
	"errors"
	"strings"
	"time"

	"github.com/requiem-ai/gemprompt/config"
	"github.com/requiem-ai/gemprompt/context"
	"github.com/requiem-ai/gemprompt/llm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tb "gopkg.in/telebot.v3"
)

// TelegramService answers every text message with one independent prompt.
type TelegramService struct {
	context.DefaultService

	Bot *tb.Bot

	cfg       *config.Config
	responder *ResponderService
	runCtx    context2.Context
}

const TELEGRAM_SVC = "telegram_svc"

const usageText = "Send me any text and I will reply with what Gemini generates for it. " +
	"Every message is answered on its own; nothing is remembered between messages."

var botCommands = []tb.Command{
	{Text: "start", Description: "Show how to use the bot"},
}

func NewTelegramService(cfg *config.Config) *TelegramService {
	return &TelegramService{cfg: cfg}
}

func (svc TelegramService) Id() string {
	return TELEGRAM_SVC
}

func (svc *TelegramService) Configure(ctx *context.Context) (err error) {
	if svc.cfg == nil || !svc.cfg.TelegramEnabled() {
		return errors.New("TELEGRAM_SECRET is required; run `gemprompt setup`")
	}

	svc.Bot, err = tb.NewBot(tb.Settings{
		Token: svc.cfg.TelegramSecret,
		Poller: &tb.LongPoller{
			Timeout: 30 * time.Second,
		},
		OnError: func(err error, c tb.Context) {
			svc.decorateTelegramEvent(log.Error().Err(err), c).Msg("telegram bot error")
		},
	})
	if err != nil {
		return err
	}

	return svc.DefaultService.Configure(ctx)
}

// Start blocks in the long poller until Shutdown stops the bot.
func (svc *TelegramService) Start(ctx context2.Context) error {
	responder, err := responderFrom(&svc.DefaultService)
	if err != nil {
		return err
	}
	svc.responder = responder
	svc.runCtx = ctx

	if err := svc.Bot.SetCommands(botCommands, tb.CommandScope{Type: tb.CommandScopeDefault}); err != nil {
		log.Warn().Err(err).Msg("failed to register telegram commands")
	}

	svc.setupHandlers()

	log.Info().
		Str("bot", svc.Bot.Me.Username).
		Int64("allowed_user_id", svc.cfg.AllowedUserID).
		Msg("telegram bot polling")

	svc.Bot.Start()

	return nil
}

func (svc *TelegramService) Shutdown() {
	if svc.Bot == nil {
		return
	}
	svc.Bot.Stop()
}

func (svc *TelegramService) setupHandlers() {
	svc.Bot.Handle("/start", svc.guardHandler(svc.onStart))
	svc.Bot.Handle(tb.OnText, svc.guardHandler(svc.onText))
}

func (svc *TelegramService) guardHandler(fn tb.HandlerFunc) tb.HandlerFunc {
	return func(c tb.Context) error {
		if c != nil {
			svc.decorateTelegramEvent(log.Info(), c).Msg("inbound telegram update")
		}

		allowed, reason := svc.isAllowedUser(c)
		if !allowed {
			svc.decorateTelegramEvent(
				log.Warn().
					Str("reason", reason).
					Int64("allowed_user_id", svc.cfg.AllowedUserID),
				c,
			).Msg("telegram update blocked")
			return nil
		}

		if err := fn(c); err != nil {
			svc.decorateTelegramEvent(log.Error().Err(err), c).Msg("telegram handler returned error")
			return err
		}

		return nil
	}
}

func (svc *TelegramService) decorateTelegramEvent(event *zerolog.Event, c tb.Context) *zerolog.Event {
	if event == nil || c == nil {
		return event
	}

	if chat := c.Chat(); chat != nil {
		event = event.Int64("chat_id", chat.ID).Str("chat_type", string(chat.Type))
	}

	if sender := c.Sender(); sender != nil {
		event = event.Int64("user_id", sender.ID).Str("sender_username", sender.Username)
	}

	if msg := c.Message(); msg != nil {
		event = event.
			Int("message_id", msg.ID).
			Int("prompt_len", len(msg.Text))
	}

	return event
}

func (svc *TelegramService) isAllowedUser(c tb.Context) (bool, string) {
	if c == nil {
		return false, "missing_context"
	}
	sender := c.Sender()
	if sender == nil {
		return false, "missing_sender"
	}
	if svc.Bot != nil && svc.Bot.Me != nil && sender.ID == svc.Bot.Me.ID {
		return false, "sender_is_bot" // Ignore bot msgs
	}
	if svc.cfg.AllowedUserID != 0 && sender.ID != svc.cfg.AllowedUserID {
		return false, "sender_not_allowed"
	}
	return true, ""
}

func (svc *TelegramService) onStart(c tb.Context) error {
	return c.Send(usageText)
}

func (svc *TelegramService) onText(c tb.Context) error {
	msg := c.Message()
	if msg == nil {
		return nil
	}

	if strings.HasPrefix(msg.Text, "/") {
		return nil
	}

	_ = svc.Bot.Notify(c.Chat(), tb.Typing, msg.ThreadID)

	ctx := svc.runCtx
	if ctx == nil {
		ctx = context2.Background()
	}
	res := svc.responder.Respond(ctx, msg.Text)

	if !res.Ok() {
		svc.decorateTelegramEvent(log.Error().Err(res.Err()), c).Msg("prompt failed")
	}

	return svc.sendReply(c.Chat(), msg.ThreadID, res)
}

// sendReply sends every part of the reply in order. A part Telegram refuses
// as MarkdownV2 is sent again as plain text.
func (svc *TelegramService) sendReply(chat *tb.Chat, threadID int, res llm.Result) error {
	for _, part := range replyParts(res) {
		if part.markdown != "" {
			_, err := svc.Bot.Send(chat, part.markdown, &tb.SendOptions{
				ThreadID:  threadID,
				ParseMode: tb.ModeMarkdownV2,
			})
			if err == nil {
				continue
			}
			log.Warn().Err(err).Int64("chat_id", chat.ID).Msg("markdown reply rejected, resending as plain text")
		}

		if _, err := svc.Bot.Send(chat, part.plain, &tb.SendOptions{ThreadID: threadID}); err != nil {
			return err
		}
	}
	return nil
}

// telegramMessageLimit is the most characters Telegram accepts in one message.
const telegramMessageLimit = 4096

// replyPart is one outgoing message. markdown is empty for failures, which
// are only ever sent as plain text.
type replyPart struct {
	plain    string
	markdown string
}

// replyParts renders a result for Telegram. Text is split before escaping
// into chunks of half the limit, so a chunk stays within the limit even when
// every character gains a backslash.
func replyParts(res llm.Result) []replyPart {
	text, ok := res.Text()
	if !ok {
		var parts []replyPart
		for _, chunk := range splitMessage("An error occurred: "+res.Err().Error(), telegramMessageLimit) {
			parts = append(parts, replyPart{plain: chunk})
		}
		return parts
	}

	var parts []replyPart
	for _, chunk := range splitMessage(generatedHead+"\n"+text, telegramMessageLimit/2) {
		parts = append(parts, replyPart{plain: chunk, markdown: escapeMarkdownV2(chunk)})
	}
	return parts
}

// splitMessage cuts text into chunks of at most limit runes, preferring to
// cut after a newline in the second half of a chunk. Whitespace-only chunks
// are dropped since Telegram rejects empty messages.
func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var chunks []string
	for len(runes) > 0 {
		cut := len(runes)
		if cut > limit {
			cut = limit
			for i := limit; i > limit/2; i-- {
				if runes[i-1] == '\n' {
					cut = i
					break
				}
			}
		}

		if chunk := string(runes[:cut]); strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}
	return chunks
}

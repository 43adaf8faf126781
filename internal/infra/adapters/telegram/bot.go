package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"telegram-image-generation/internal/config"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
)

var _ adapter.TelegramBotAdapter = (*Bot)(nil)

// Bot implements the chat-platform port over tgbotapi. It only sends;
// inbound updates are handled by the bot front-end, not this service.
type Bot struct {
	api *tgbotapi.BotAPI
	log zerolog.Logger
}

func NewBot(cfg *config.BotConfig, log zerolog.Logger) (*Bot, error) {
	if cfg == nil || cfg.Token == "" {
		return nil, errors.New("bot token empty")
	}
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}
	return &Bot{
		api: api,
		log: log.With().Str("component", "telegram-bot").Logger(),
	}, nil
}

// classify wraps blocked/deactivated rejections so broadcast accounting can
// separate them from ordinary failures.
func classify(telegramID int64, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		desc := strings.ToLower(apiErr.Message)
		if apiErr.Code == 403 || strings.Contains(desc, "blocked") || strings.Contains(desc, "deactivated") {
			return &adapter.BlockedError{TelegramID: telegramID}
		}
	}
	return err
}

func (b *Bot) send(ctx context.Context, telegramID int64, c tgbotapi.Chattable) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := b.api.Send(c)
	return classify(telegramID, err)
}

func (b *Bot) SendMessage(ctx context.Context, telegramID int64, text string) error {
	return b.send(ctx, telegramID, tgbotapi.NewMessage(telegramID, text))
}

func buttonMarkup(button *adapter.InlineButton) *tgbotapi.InlineKeyboardMarkup {
	if button == nil {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(button.Text, button.URL)),
	)
	return &markup
}

func (b *Bot) SendMessageWithButton(ctx context.Context, telegramID int64, text string, button *adapter.InlineButton) error {
	msg := tgbotapi.NewMessage(telegramID, text)
	if m := buttonMarkup(button); m != nil {
		msg.ReplyMarkup = m
	}
	return b.send(ctx, telegramID, msg)
}

func (b *Bot) SendPhoto(ctx context.Context, telegramID int64, urlOrFileID, caption string) error {
	var file tgbotapi.RequestFileData
	if strings.HasPrefix(urlOrFileID, "http://") || strings.HasPrefix(urlOrFileID, "https://") {
		file = tgbotapi.FileURL(urlOrFileID)
	} else {
		file = tgbotapi.FileID(urlOrFileID)
	}
	msg := tgbotapi.NewPhoto(telegramID, file)
	msg.Caption = caption
	return b.send(ctx, telegramID, msg)
}

func (b *Bot) SendDocument(ctx context.Context, telegramID int64, fileID, caption string) error {
	msg := tgbotapi.NewDocument(telegramID, tgbotapi.FileID(fileID))
	msg.Caption = caption
	return b.send(ctx, telegramID, msg)
}

func (b *Bot) SendVideo(ctx context.Context, telegramID int64, fileID, caption string) error {
	msg := tgbotapi.NewVideo(telegramID, tgbotapi.FileID(fileID))
	msg.Caption = caption
	return b.send(ctx, telegramID, msg)
}

func (b *Bot) SendAnimation(ctx context.Context, telegramID int64, fileID, caption string) error {
	msg := tgbotapi.NewAnimation(telegramID, tgbotapi.FileID(fileID))
	msg.Caption = caption
	return b.send(ctx, telegramID, msg)
}

// SendMedia dispatches on broadcast content type so the broadcast worker
// does not switch on it everywhere.
func (b *Bot) SendMedia(ctx context.Context, telegramID int64, ct model.BroadcastContentType, fileID, caption string, button *adapter.InlineButton) error {
	markup := buttonMarkup(button)
	switch ct {
	case model.BroadcastPhoto:
		msg := tgbotapi.NewPhoto(telegramID, tgbotapi.FileID(fileID))
		msg.Caption = caption
		if markup != nil {
			msg.ReplyMarkup = markup
		}
		return b.send(ctx, telegramID, msg)
	case model.BroadcastVideo:
		msg := tgbotapi.NewVideo(telegramID, tgbotapi.FileID(fileID))
		msg.Caption = caption
		if markup != nil {
			msg.ReplyMarkup = markup
		}
		return b.send(ctx, telegramID, msg)
	case model.BroadcastDocument:
		msg := tgbotapi.NewDocument(telegramID, tgbotapi.FileID(fileID))
		msg.Caption = caption
		if markup != nil {
			msg.ReplyMarkup = markup
		}
		return b.send(ctx, telegramID, msg)
	case model.BroadcastAnimation:
		msg := tgbotapi.NewAnimation(telegramID, tgbotapi.FileID(fileID))
		msg.Caption = caption
		if markup != nil {
			msg.ReplyMarkup = markup
		}
		return b.send(ctx, telegramID, msg)
	default:
		return b.SendMessageWithButton(ctx, telegramID, caption, button)
	}
}

func (b *Bot) EditMessageText(ctx context.Context, telegramID int64, messageID int, text string) error {
	return b.send(ctx, telegramID, tgbotapi.NewEditMessageText(telegramID, messageID, text))
}

func (b *Bot) DeleteMessage(ctx context.Context, telegramID int64, messageID int) error {
	return b.send(ctx, telegramID, tgbotapi.NewDeleteMessage(telegramID, messageID))
}

package telegram

import (
	"context"

	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
)

var _ adapter.TelegramBotAdapter = (*NoopBot)(nil)

// NoopBot swallows every send. Used in dev mode when no bot token should
// actually reach Telegram.
type NoopBot struct{}

func NewNoopBot() *NoopBot { return &NoopBot{} }

func (NoopBot) SendMessage(context.Context, int64, string) error { return nil }
func (NoopBot) SendMessageWithButton(context.Context, int64, string, *adapter.InlineButton) error {
	return nil
}
func (NoopBot) SendPhoto(context.Context, int64, string, string) error     { return nil }
func (NoopBot) SendDocument(context.Context, int64, string, string) error { return nil }
func (NoopBot) SendVideo(context.Context, int64, string, string) error    { return nil }
func (NoopBot) SendAnimation(context.Context, int64, string, string) error {
	return nil
}
func (NoopBot) SendMedia(context.Context, int64, model.BroadcastContentType, string, string, *adapter.InlineButton) error {
	return nil
}
func (NoopBot) EditMessageText(context.Context, int64, int, string) error { return nil }
func (NoopBot) DeleteMessage(context.Context, int64, int) error           { return nil }

// File: internal/domain/ports/adapter/telegram.go
package adapter

import (
	"context"
	"errors"

	"telegram-image-generation/internal/domain/model"
)

type InlineButton struct {
	Text string
	URL  string
}

// BlockedError marks a send failure caused by the recipient blocking or
// deactivating the bot. Broadcast accounting counts these separately from
// ordinary failures.
type BlockedError struct {
	TelegramID int64
}

func (e *BlockedError) Error() string { return "recipient blocked or deactivated the bot" }

func IsBlocked(err error) bool {
	var be *BlockedError
	return errors.As(err, &be)
}

// TelegramBotAdapter is the chat-platform port. Delivery is at-least-once;
// callers must tolerate duplicates.
type TelegramBotAdapter interface {
	SendMessage(ctx context.Context, telegramID int64, text string) error
	SendMessageWithButton(ctx context.Context, telegramID int64, text string, button *InlineButton) error
	SendPhoto(ctx context.Context, telegramID int64, urlOrFileID, caption string) error
	SendDocument(ctx context.Context, telegramID int64, fileID, caption string) error
	SendVideo(ctx context.Context, telegramID int64, fileID, caption string) error
	SendAnimation(ctx context.Context, telegramID int64, fileID, caption string) error
	SendMedia(ctx context.Context, telegramID int64, ct model.BroadcastContentType, fileID, caption string, button *InlineButton) error
	EditMessageText(ctx context.Context, telegramID int64, messageID int, text string) error
	DeleteMessage(ctx context.Context, telegramID int64, messageID int) error
}

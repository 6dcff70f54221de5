// Package telegram turns Telegram chats into play sessions: each
// webhook update becomes a player action for the character bound to
// that chat, and the turn's narrative is the reply.
package telegram

import (
	"context"
	"fmt"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const DefaultParseMode = "Markdown"

// Channel wraps the Bot API connection.
type Channel struct {
	bot *tgbotapi.BotAPI
}

// NewChannel creates a Telegram channel for the given bot token.
func NewChannel(botToken string) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return &Channel{bot: bot}, nil
}

// SendText sends a Markdown-formatted message to a chat.
func (c *Channel) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = DefaultParseMode
	_, err := c.bot.Send(msg)
	return err
}

// SetWebhook points the bot at webhookURL for update delivery.
func (c *Channel) SetWebhook(_ context.Context, webhookURL string, dropPendingUpdates bool) error {
	parsedURL, err := url.Parse(webhookURL)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(tgbotapi.WebhookConfig{
		URL:                parsedURL,
		DropPendingUpdates: dropPendingUpdates,
	})
	return err
}

// DeleteWebhook removes the webhook for the Telegram bot.
func (c *Channel) DeleteWebhook(_ context.Context) error {
	_, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{
		DropPendingUpdates: true,
	})
	return err
}

// GetWebhookInfo returns information about the current webhook.
func (c *Channel) GetWebhookInfo(_ context.Context) (tgbotapi.WebhookInfo, error) {
	return c.bot.GetWebhookInfo()
}

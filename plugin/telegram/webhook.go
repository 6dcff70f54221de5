package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kestrelgames/taleweaver/game/turn"
)

// ErrInvalidPayload rejects webhook bodies that do not decode into a
// Telegram update.
var ErrInvalidPayload = errors.New("telegram: invalid webhook payload")

// TurnProcessor runs one game turn. Implemented by *turn.Orchestrator.
type TurnProcessor interface {
	ProcessTurn(ctx context.Context, req turn.Request) (*turn.TurnResult, error)
}

// Sender delivers a reply to a chat. Implemented by *Channel.
type Sender interface {
	SendText(chatID int64, text string) error
}

// Bindings maps chats to the character played in them. Safe for
// concurrent use.
type Bindings struct {
	mu         sync.RWMutex
	characters map[int64]string
}

// NewBindings creates an empty chat-to-character map.
func NewBindings() *Bindings {
	return &Bindings{characters: make(map[int64]string)}
}

// Bind assigns a character to a chat, replacing any previous binding.
func (b *Bindings) Bind(chatID int64, characterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.characters[chatID] = characterID
}

// Lookup returns the character bound to a chat.
func (b *Bindings) Lookup(chatID int64) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.characters[chatID]
	return id, ok
}

// Unbind removes a chat's binding, returning the character it had.
func (b *Bindings) Unbind(chatID int64) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.characters[chatID]
	if ok {
		delete(b.characters, chatID)
	}
	return id, ok
}

// Handler glues webhook updates to the turn pipeline.
type Handler struct {
	sender   Sender
	turns    TurnProcessor
	bindings *Bindings
}

// NewHandler creates a webhook handler replying through sender.
func NewHandler(sender Sender, turns TurnProcessor) *Handler {
	return &Handler{
		sender:   sender,
		turns:    turns,
		bindings: NewBindings(),
	}
}

// VerifyRequest verifies that the request came from Telegram.
// Telegram Bot API doesn't sign webhooks, so we validate:
// 1. HTTP method is POST
// 2. Content-Type is JSON or empty (Telegram sometimes doesn't send it)
func (h *Handler) VerifyRequest(r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Warn("telegram webhook: invalid method", "method", r.Method, "remote_addr", r.RemoteAddr)
		return false
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		slog.Warn("telegram webhook: invalid content type", "content_type", ct, "remote_addr", r.RemoteAddr)
		return false
	}
	return true
}

// HandleWebhook decodes an incoming webhook request and processes it.
func (h *Handler) HandleWebhook(ctx context.Context, r *http.Request) error {
	defer r.Body.Close()
	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		return ErrInvalidPayload
	}
	return h.ProcessUpdate(ctx, &update)
}

// ProcessUpdate handles one Telegram update end to end: commands
// manage the chat's character binding, plain text becomes a player
// action. Media-only updates are ignored.
func (h *Handler) ProcessUpdate(ctx context.Context, update *tgbotapi.Update) error {
	msg := messageFromUpdate(update)
	if msg == nil || msg.Chat == nil {
		return ErrInvalidPayload
	}
	chatID := msg.Chat.ID

	if msg.IsCommand() {
		return h.handleCommand(chatID, msg)
	}

	if msg.Text == "" {
		// Photos, voice notes and the like carry no player action.
		slog.Debug("telegram: ignoring media update", "chat_id", chatID)
		return nil
	}

	characterID, bound := h.bindings.Lookup(chatID)
	if !bound {
		return h.sender.SendText(chatID, "No character bound to this chat yet. Use /play <character-id> first.")
	}

	res, err := h.turns.ProcessTurn(ctx, turn.Request{
		CharacterID:  characterID,
		PlayerAction: msg.Text,
	})
	if err != nil {
		return h.replyTurnError(chatID, characterID, err)
	}
	return h.sender.SendText(chatID, res.Narrative)
}

func (h *Handler) handleCommand(chatID int64, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "play":
		characterID := strings.TrimSpace(msg.CommandArguments())
		if characterID == "" {
			return h.sender.SendText(chatID, "Usage: /play <character-id>")
		}
		h.bindings.Bind(chatID, characterID)
		return h.sender.SendText(chatID, fmt.Sprintf("You are now playing as `%s`. Send any action to take a turn.", characterID))
	case "stop":
		if characterID, ok := h.bindings.Unbind(chatID); ok {
			return h.sender.SendText(chatID, fmt.Sprintf("Stopped playing as `%s`.", characterID))
		}
		return h.sender.SendText(chatID, "No character was bound to this chat.")
	case "start", "help":
		return h.sender.SendText(chatID, "Bind a character with /play <character-id>, then send actions as plain text. /stop ends the session.")
	default:
		return h.sender.SendText(chatID, "Unknown command. Try /help.")
	}
}

func (h *Handler) replyTurnError(chatID int64, characterID string, err error) error {
	var limited *turn.RateLimitedError
	if errors.As(err, &limited) {
		return h.sender.SendText(chatID, fmt.Sprintf("Catch your breath. Try again in about %.0f seconds.", limited.RetryAfterSeconds+0.5))
	}

	var turnErr *turn.Error
	if errors.As(err, &turnErr) && turnErr.Kind == turn.KindCharacterNotFound {
		return h.sender.SendText(chatID, fmt.Sprintf("No character `%s` exists in the journey log. Bind another with /play.", characterID))
	}

	slog.Warn("telegram: turn failed", "chat_id", chatID, "character_id", characterID, "error", err)
	return h.sender.SendText(chatID, "The storyteller stumbled over that one. Try again in a moment.")
}

func messageFromUpdate(update *tgbotapi.Update) *tgbotapi.Message {
	switch {
	case update.Message != nil:
		return update.Message
	case update.EditedMessage != nil:
		return update.EditedMessage
	default:
		return nil
	}
}

package v1

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/feeds"
	"github.com/labstack/echo/v4"
	"github.com/yuin/goldmark"

	"github.com/kestrelgames/taleweaver/internal/strutil"
	"github.com/kestrelgames/taleweaver/game/observability/logging"
	"github.com/kestrelgames/taleweaver/journeylog"
)

// feedHistoryTurns is how many past turns the adventure log shows.
const feedHistoryTurns = 20

var md = goldmark.New()

// GetCharacterFeed renders a character's recent narrative history as an
// Atom feed, markdown converted to HTML.
func (s *APIV1Service) GetCharacterFeed(c echo.Context) error {
	characterID := c.Param("id")
	charCtx, err := s.Store.GetContext(c.Request().Context(), characterID, feedHistoryTurns, false)
	if err != nil {
		if journeylog.IsCharacterNotFound(err) {
			return writeError(c, http.StatusNotFound, "not_found", "character not found", requestTraceID(c))
		}
		return writeError(c, http.StatusBadGateway, "context_fetch_error", "could not fetch the adventure log", requestTraceID(c))
	}

	baseURL := s.Profile.InstanceURL
	if baseURL == "" {
		baseURL = "http://" + c.Request().Host
	}
	feedURL := fmt.Sprintf("%s/api/v1/characters/%s/feed", baseURL, characterID)

	now := time.Now()
	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Adventures of %s", characterID),
		Link:        &feeds.Link{Href: feedURL},
		Description: fmt.Sprintf("The last %d turns of the journey.", len(charCtx.RecentHistory)),
		Created:     now,
	}

	// RecentHistory arrives oldest-first; readers want newest first.
	history := charCtx.RecentHistory
	for i := len(history) - 1; i >= 0; i-- {
		entry := history[i]
		feed.Items = append(feed.Items, &feeds.Item{
			Title:       entryTitle(entry),
			Link:        &feeds.Link{Href: fmt.Sprintf("%s/api/v1/characters/%s/turns", baseURL, characterID)},
			Description: renderNarrative(c, entry.Response),
			Id:          fmt.Sprintf("urn:taleweaver:%s:turn:%d", characterID, entry.TurnIndex),
			Created:     now,
		})
	}

	atom, err := feed.ToAtom()
	if err != nil {
		return writeError(c, http.StatusInternalServerError, "internal", "could not render the feed", requestTraceID(c))
	}
	return c.Blob(http.StatusOK, "application/atom+xml; charset=utf-8", []byte(atom))
}

func entryTitle(entry journeylog.HistoryEntry) string {
	action := strutil.Truncate(entry.PlayerAction, 60)
	if action == "" {
		action = "The story continues"
	}
	if entry.TurnIndex > 0 {
		return fmt.Sprintf("Turn %d: %s", entry.TurnIndex, action)
	}
	return action
}

// renderNarrative converts the narrative markdown to HTML, falling
// back to the raw text when conversion fails.
func renderNarrative(c echo.Context, narrative string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(narrative), &buf); err != nil {
		logging.FromContext(c.Request().Context()).Warn("server: markdown render failed", "error", err)
		return narrative
	}
	return buf.String()
}

// Package journeylog is the typed REST client for the journey-log
// service that owns authoritative character and narrative state.
//
// Reads (context, random POIs) are idempotent and go through the retry
// wrapper. Mutations are issued exactly once: the store has no
// idempotency keys at the narrative layer, so a duplicate write is
// worse than a dropped one.
package journeylog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/kestrelgames/taleweaver/game/observability/logging"
	"github.com/kestrelgames/taleweaver/game/retry"
	"github.com/kestrelgames/taleweaver/game/tracing"
)

// TraceHeader carries the turn's trace id on every request so the
// store can correlate its logs with ours.
const TraceHeader = "X-Trace-ID"

// previewLimit bounds how much of an error body is kept for logs.
const previewLimit = 512

// Config configures the journey-log client.
type Config struct {
	// BaseURL is the store's root URL. A trailing slash is stripped.
	BaseURL string
	// Timeout applies per attempt, not across retries.
	Timeout time.Duration
	// Retry controls backoff for the idempotent read operations.
	Retry retry.Config
}

// Client talks to the journey-log service. Safe for concurrent use.
type Client struct {
	baseURL  string
	http     *http.Client
	retryCfg retry.Config
}

// NewClient creates a journey-log client from cfg.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts <= 0 {
		retryCfg = retry.DefaultConfig()
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		retryCfg: retryCfg,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// BaseURL returns the normalized store root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// GetContext fetches the character snapshot that starts a turn.
// A 404 maps to CharacterNotFoundError; other failures are retried
// per the client's retry configuration.
func (c *Client) GetContext(ctx context.Context, characterID string, recentN int, includePOIs bool) (*Context, error) {
	q := url.Values{}
	q.Set("recent_n", strconv.Itoa(recentN))
	q.Set("include_pois", strconv.FormatBool(includePOIs))
	u := c.characterURL(characterID, "context") + "?" + q.Encode()

	var out Context
	err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		err := c.do(ctx, http.MethodGet, u, nil, &out, "get context")
		var remote *RemoteError
		if errors.As(err, &remote) && remote.StatusCode == http.StatusNotFound {
			return &CharacterNotFoundError{CharacterID: characterID}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.CharacterID == "" {
		out.CharacterID = characterID
	}
	return &out, nil
}

// GetRandomPOIs samples up to n prior points of interest for memory
// sparks. Retried; the orchestrator treats any final failure as an
// empty result.
func (c *Client) GetRandomPOIs(ctx context.Context, characterID string, n int) ([]POI, error) {
	u := c.characterURL(characterID, "pois", "random") + "?n=" + strconv.Itoa(n)

	var out []POI
	err := retry.Do(ctx, c.retryCfg, func(ctx context.Context) error {
		return c.do(ctx, http.MethodGet, u, nil, &out, "get random pois")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutQuest stores quest as the character's active quest. Not retried.
func (c *Client) PutQuest(ctx context.Context, characterID string, quest *Quest) error {
	return c.do(ctx, http.MethodPut, c.characterURL(characterID, "quest"), quest, nil, "put quest")
}

// DeleteQuest clears the character's active quest. Not retried on any
// failure class.
func (c *Client) DeleteQuest(ctx context.Context, characterID string) error {
	return c.do(ctx, http.MethodDelete, c.characterURL(characterID, "quest"), nil, nil, "delete quest")
}

// PutCombat stores the character's combat state. Not retried.
func (c *Client) PutCombat(ctx context.Context, characterID string, combat *CombatState) error {
	return c.do(ctx, http.MethodPut, c.characterURL(characterID, "combat"), combat, nil, "put combat")
}

type poiPayload struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// PostPOI records a new point of interest. The payload carries only
// name, description and tags. Not retried.
func (c *Client) PostPOI(ctx context.Context, characterID string, poi *POI) error {
	payload := poiPayload{Name: poi.Name, Description: poi.Description, Tags: poi.Tags}
	if payload.Tags == nil {
		payload.Tags = []string{}
	}
	return c.do(ctx, http.MethodPost, c.characterURL(characterID, "pois"), payload, nil, "post poi")
}

type narrativePayload struct {
	PlayerAction string `json:"player_action"`
	Response     string `json:"response"`
}

// PostNarrative appends one turn of narrative history. Not retried.
func (c *Client) PostNarrative(ctx context.Context, characterID, playerAction, response string) error {
	payload := narrativePayload{PlayerAction: playerAction, Response: response}
	return c.do(ctx, http.MethodPost, c.characterURL(characterID, "narrative"), payload, nil, "post narrative")
}

func (c *Client) characterURL(characterID string, parts ...string) string {
	var b strings.Builder
	b.WriteString(c.baseURL)
	b.WriteString("/characters/")
	b.WriteString(url.PathEscape(characterID))
	for _, p := range parts {
		b.WriteString("/")
		b.WriteString(p)
	}
	return b.String()
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload, out any, op string) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrapf(err, "journeylog: encode %s payload", op)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return errors.Wrapf(err, "journeylog: build %s request", op)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if trace := tracing.FromContext(ctx); trace != nil && trace.TraceID != "" {
		req.Header.Set(TraceHeader, trace.TraceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "journeylog: %s", op)
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // cleanup

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return remoteError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "journeylog: decode %s response", op)
		}
		return nil
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func remoteError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, previewLimit))
	preview := logging.Redact(strings.TrimSpace(string(raw)))
	return &RemoteError{StatusCode: resp.StatusCode, Preview: preview}
}

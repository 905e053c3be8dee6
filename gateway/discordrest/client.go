// Package discordrest is a minimal REST adapter to the membership
// system, implementing moderation.Gateway. It maps the API's failure
// modes onto the moderation error sentinels: 403 means the bot lacks
// rights, 404 means the target is already in the desired state.
package discordrest

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"emperror.dev/errors"
	cleanhttp "github.com/hashicorp/go-cleanhttp"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/guardbot-gg/guardbot/common"
	"github.com/guardbot-gg/guardbot/moderation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const DefaultAPIBase = "https://discord.com/api/v10"

var _ moderation.Gateway = (*Client)(nil)

type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *logrus.Entry

	dmChannelsMu sync.Mutex
	dmChannels   map[int64]int64
}

type Option func(*Client)

// WithBaseURL overrides the API base, for tests and proxies.
func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = base
	}
}

func New(token string, opts ...Option) *Client {
	c := &Client{
		token:      token,
		baseURL:    DefaultAPIBase,
		http:       cleanhttp.DefaultPooledClient(),
		limiter:    rate.NewLimiter(rate.Limit(20), 5),
		log:        common.GetPluginLogger("discordrest"),
		dmChannels: make(map[int64]int64),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}, auditReason string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.WithStackIf(err)
	}

	var reader io.Reader
	if body != nil {
		serialized, err := json.Marshal(body)
		if err != nil {
			return errors.WithMessage(err, "marshal request body")
		}
		reader = bytes.NewReader(serialized)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.WithStackIf(err)
	}

	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auditReason != "" {
		req.Header.Set("X-Audit-Log-Reason", url.QueryEscape(auditReason))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// transport failure; the caller may retry
		return errors.WithStackIf(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusForbidden:
		return errors.WithMessage(moderation.ErrPermissionDenied, method+" "+path)
	case resp.StatusCode == http.StatusNotFound:
		return errors.WithMessage(moderation.ErrNotFound, method+" "+path)
	default:
		return errors.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if dest != nil {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.WithStackIf(err)
		}
		if err := json.Unmarshal(raw, dest); err != nil {
			return errors.WithMessage(err, "unmarshal response")
		}
	}

	return nil
}

func (c *Client) Kick(ctx context.Context, guildID, userID int64, reason string) error {
	path := "/guilds/" + strconv.FormatInt(guildID, 10) + "/members/" + strconv.FormatInt(userID, 10)
	return c.do(ctx, http.MethodDelete, path, nil, nil, reason)
}

func (c *Client) Ban(ctx context.Context, guildID, userID int64, reason string, deleteMessageDays int) error {
	path := "/guilds/" + strconv.FormatInt(guildID, 10) + "/bans/" + strconv.FormatInt(userID, 10)
	body := map[string]interface{}{
		"delete_message_days": deleteMessageDays,
	}
	return c.do(ctx, http.MethodPut, path, body, nil, reason)
}

func (c *Client) Unban(ctx context.Context, guildID, userID int64, reason string) error {
	path := "/guilds/" + strconv.FormatInt(guildID, 10) + "/bans/" + strconv.FormatInt(userID, 10)
	return c.do(ctx, http.MethodDelete, path, nil, nil, reason)
}

// Timeout sets or, with a nil until, clears the member's communication
// timeout.
func (c *Client) Timeout(ctx context.Context, guildID, userID int64, until *time.Time, reason string) error {
	path := "/guilds/" + strconv.FormatInt(guildID, 10) + "/members/" + strconv.FormatInt(userID, 10)

	var disabledUntil interface{}
	if until != nil {
		disabledUntil = until.UTC().Format(time.RFC3339)
	}

	body := map[string]interface{}{
		"communication_disabled_until": disabledUntil,
	}
	return c.do(ctx, http.MethodPatch, path, body, nil, reason)
}

func (c *Client) SendDM(ctx context.Context, userID int64, message string) error {
	channelID, err := c.dmChannel(ctx, userID)
	if err != nil {
		return err
	}

	return c.SendChannelMessage(ctx, channelID, message)
}

func (c *Client) SendChannelMessage(ctx context.Context, channelID int64, content string) error {
	path := "/channels/" + strconv.FormatInt(channelID, 10) + "/messages"
	body := map[string]interface{}{
		"content": content,
	}
	return c.do(ctx, http.MethodPost, path, body, nil, "")
}

// dmChannel resolves (and caches) the DM channel for a user.
func (c *Client) dmChannel(ctx context.Context, userID int64) (int64, error) {
	c.dmChannelsMu.Lock()
	cached, ok := c.dmChannels[userID]
	c.dmChannelsMu.Unlock()
	if ok {
		return cached, nil
	}

	body := map[string]interface{}{
		"recipient_id": strconv.FormatInt(userID, 10),
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", body, &resp, ""); err != nil {
		return 0, err
	}

	channelID, err := strconv.ParseInt(resp.ID, 10, 64)
	if err != nil {
		return 0, errors.WithMessage(err, "parse dm channel id")
	}

	c.dmChannelsMu.Lock()
	c.dmChannels[userID] = channelID
	c.dmChannelsMu.Unlock()

	return channelID, nil
}

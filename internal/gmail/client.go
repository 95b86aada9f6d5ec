// Package gmail is the Gmail mailbox client used by the processing loop: it
// lists candidates, fetches messages as plain text and applies labels.
package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"jobmail/internal/cache"
	"jobmail/internal/classifier"
	"jobmail/internal/config"
	"jobmail/internal/mailbox"
	"jobmail/internal/retry"

	"github.com/jhillyerd/enmime"
	"github.com/rs/zerolog"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	user         = "me"
	inboxLabel   = "INBOX"
	pageSize     = 100
	labelIDsTTL  = time.Hour
	defaultQuery = "in:inbox"
)

// Client talks to one Gmail account.
type Client struct {
	srv    *gmail.Service
	labels *cache.Cache[string]
	retry  retry.Policy
	logger zerolog.Logger
}

// NewClient authenticates with the stored OAuth token and returns a client.
// A missing credentials or token file is a *classifier.ConfigError; run
// Authorize first.
func NewClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Client, error) {
	oauthConfig, err := loadOAuthConfig(cfg.GmailCredentialsFile)
	if err != nil {
		return nil, err
	}
	tok, err := tokenFromFile(cfg.GmailTokenFile)
	if err != nil {
		return nil, classifier.NewConfigError("no Gmail token at %s, run `jobmail auth` first: %v", cfg.GmailTokenFile, err)
	}

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(oauthConfig.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return NewWithService(srv, logger), nil
}

// NewWithService wraps an existing Gmail service.
func NewWithService(srv *gmail.Service, logger zerolog.Logger) *Client {
	return &Client{
		srv:    srv,
		labels: cache.New[string](),
		retry:  retry.Default(),
		logger: logger.With().Str("component", "gmail").Logger(),
	}
}

// ListCandidates returns up to limit message ids matching q, newest first.
func (c *Client) ListCandidates(ctx context.Context, q mailbox.Query, limit int) ([]string, error) {
	query := q.String()
	if query == "" {
		query = defaultQuery
	}

	var ids []string
	pageToken := ""
	for {
		want := pageSize
		if limit > 0 && limit-len(ids) < want {
			want = limit - len(ids)
		}

		var resp *gmail.ListMessagesResponse
		err := c.do(ctx, "list messages", func(ctx context.Context) error {
			call := c.srv.Users.Messages.List(user).Q(query).MaxResults(int64(want)).Context(ctx)
			if pageToken != "" {
				call = call.PageToken(pageToken)
			}
			r, err := call.Do()
			resp = r
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("listing messages for %q: %w", query, err)
		}

		for _, m := range resp.Messages {
			ids = append(ids, m.Id)
		}
		if resp.NextPageToken == "" || (limit > 0 && len(ids) >= limit) {
			break
		}
		pageToken = resp.NextPageToken
	}

	c.logger.Debug().Str("query", query).Int("count", len(ids)).Msg("Listed candidates")
	return ids, nil
}

// GetMessage fetches the raw RFC 822 source and extracts subject, sender and
// a plain-text body.
func (c *Client) GetMessage(ctx context.Context, id string) (mailbox.Message, error) {
	var msg *gmail.Message
	err := c.do(ctx, "get message", func(ctx context.Context) error {
		m, err := c.srv.Users.Messages.Get(user, id).Format("raw").Context(ctx).Do()
		msg = m
		return err
	})
	if err != nil {
		return mailbox.Message{}, fmt.Errorf("fetching message %s: %w", id, err)
	}

	raw, err := decodeRaw(msg.Raw)
	if err != nil {
		return mailbox.Message{}, fmt.Errorf("decoding message %s: %w", id, err)
	}
	return parseRaw(msg.Id, msg.ThreadId, msg.LabelIds, raw)
}

// ApplyLabel adds the named label to the message, creating the label when
// the account doesn't have it yet.
func (c *Client) ApplyLabel(ctx context.Context, id, name string) error {
	labelID, err := c.labelID(ctx, name)
	if err != nil {
		return err
	}
	return c.modify(ctx, id, &gmail.ModifyMessageRequest{AddLabelIds: []string{labelID}})
}

// Archive removes the message from the inbox.
func (c *Client) Archive(ctx context.Context, id string) error {
	return c.modify(ctx, id, &gmail.ModifyMessageRequest{RemoveLabelIds: []string{inboxLabel}})
}

func (c *Client) modify(ctx context.Context, id string, req *gmail.ModifyMessageRequest) error {
	err := c.do(ctx, "modify message", func(ctx context.Context) error {
		_, err := c.srv.Users.Messages.Modify(user, id, req).Context(ctx).Do()
		return err
	})
	if err != nil {
		return fmt.Errorf("modifying message %s: %w", id, err)
	}
	return nil
}

// labelID resolves a label name to its id. Gmail label names are unique
// regardless of case.
func (c *Client) labelID(ctx context.Context, name string) (string, error) {
	key := strings.ToLower(name)
	if id, ok := c.labels.Get(key); ok {
		return id, nil
	}

	var list *gmail.ListLabelsResponse
	err := c.do(ctx, "list labels", func(ctx context.Context) error {
		l, err := c.srv.Users.Labels.List(user).Context(ctx).Do()
		list = l
		return err
	})
	if err != nil {
		return "", fmt.Errorf("listing labels: %w", err)
	}
	for _, l := range list.Labels {
		c.labels.Set(strings.ToLower(l.Name), l.Id, labelIDsTTL)
	}
	if id, ok := c.labels.Get(key); ok {
		return id, nil
	}

	var created *gmail.Label
	err = c.do(ctx, "create label", func(ctx context.Context) error {
		l, err := c.srv.Users.Labels.Create(user, &gmail.Label{
			Name:                  name,
			LabelListVisibility:   "labelShow",
			MessageListVisibility: "show",
		}).Context(ctx).Do()
		created = l
		return err
	})
	if err != nil {
		return "", fmt.Errorf("creating label %q: %w", name, err)
	}

	c.logger.Info().Str("label", name).Str("label_id", created.Id).Msg("Created label")
	c.labels.Set(key, created.Id, labelIDsTTL)
	return created.Id, nil
}

// do runs one API call under the retry policy. Rate limits, server errors
// and transport failures are retried.
func (c *Client) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, c.retry, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err != nil && transient(err) {
			c.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("Transient Gmail error, retrying")
			return retry.Transient(err)
		}
		return err
	})
}

// rateLimitReasons are the 403 reasons Gmail uses for per-user quotas.
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
}

func transient(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			for _, item := range apiErr.Errors {
				if rateLimitReasons[item.Reason] {
					return true
				}
			}
			return false
		}
		return retry.IsTransientStatus(apiErr.Code)
	}
	return retry.IsNetworkError(err)
}

// decodeRaw accepts the base64url source with or without padding.
func decodeRaw(raw string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
}

func parseRaw(id, threadID string, labels []string, raw []byte) (mailbox.Message, error) {
	envelope, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return mailbox.Message{}, fmt.Errorf("failed to parse message %s: %w", id, err)
	}

	// enmime down-converts HTML-only messages into Text
	return mailbox.Message{
		ID:       id,
		ThreadID: threadID,
		Subject:  envelope.GetHeader("Subject"),
		From:     envelope.GetHeader("From"),
		Body:     strings.TrimSpace(envelope.Text),
		Labels:   labels,
	}, nil
}

// Package scraper talks to the companion 1337x scraping service, which
// handles the site's bot protection and exposes plain JSON.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"bitfinder/internal/domain"
	"bitfinder/internal/providers/common"
)

const (
	Name = "1337x"

	DefaultBaseURL      = "http://localhost:8000"
	searchTimeout       = 30 * time.Second
	availabilityTimeout = 2 * time.Second
)

var ErrEmptyMagnet = errors.New("scraper returned no magnet")

type Config struct {
	BaseURL string
	Client  *http.Client
}

type Client struct {
	baseURL string
	client  *http.Client
	group   singleflight.Group
}

type item struct {
	Title string `json:"title"`
	Seeds *int   `json:"seeds"`
	Peers *int   `json:"peers"`
	Size  string `json:"size"`
	Time  string `json:"time"`
	Desc  string `json:"desc"`
}

type searchResponse struct {
	Torrents []item `json:"torrents"`
	Error    string `json:"error"`
}

type magnetResponse struct {
	Magnet string `json:"magnet"`
}

func New(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = common.NewHTTPClient(searchTimeout)
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{baseURL: base, client: client}
}

func (c *Client) Name() string { return "scraper" }

func (c *Client) Providers() []string { return []string{Name} }

func (c *Client) Kinds() []domain.RawKind { return []domain.RawKind{domain.RawLeetX} }

func (c *Client) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	limit := request.Limit
	if limit <= 0 {
		limit = 50
	}
	ctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	endpoint := c.baseURL + "/api/search?query=" + url.QueryEscape(strings.TrimSpace(request.Query)) +
		"&limit=" + strconv.Itoa(limit)
	var payload searchResponse
	if err := common.GetJSON(ctx, c.client, Name, endpoint, "", &payload); err != nil {
		return nil, err
	}
	if payload.Error != "" {
		return nil, fmt.Errorf("%s: %s", Name, payload.Error)
	}

	results := make([]domain.SearchResult, 0, len(payload.Torrents))
	for _, t := range payload.Torrents {
		results = append(results, domain.SearchResult{
			Title:     strings.TrimSpace(t.Title),
			Seeds:     t.Seeds,
			Peers:     t.Peers,
			Size:      strings.TrimSpace(t.Size),
			SizeBytes: common.ParseHumanSize(t.Size),
			Provider:  Name,
			Link:      t.Desc,
			Time:      t.Time,
			Raw: domain.RawPayload{
				Kind:  domain.RawLeetX,
				LeetX: &domain.LeetXPayload{DetailURL: t.Desc},
			},
		})
	}
	return results, nil
}

// Magnet fetches the magnet for a detail page. Concurrent requests for the
// same page share one upstream call.
func (c *Client) Magnet(ctx context.Context, raw domain.RawPayload) (string, error) {
	if raw.LeetX == nil || strings.TrimSpace(raw.LeetX.DetailURL) == "" {
		return "", domain.ErrInvalidPayload
	}
	detail := strings.TrimSpace(raw.LeetX.DetailURL)
	value, err, _ := c.group.Do(detail, func() (any, error) {
		var payload magnetResponse
		endpoint := c.baseURL + "/api/magnet?url=" + url.QueryEscape(detail)
		if err := common.GetJSON(ctx, c.client, Name, endpoint, "", &payload); err != nil {
			return "", err
		}
		if payload.Magnet == "" {
			return "", ErrEmptyMagnet
		}
		return payload.Magnet, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Available reports whether the scraping service answers its root endpoint.
func (c *Client) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, availabilityTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

package piratebay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bitfinder/internal/domain"
	"bitfinder/internal/providers/common"
)

const (
	Name            = "ThePirateBay"
	defaultEndpoint = "https://apibay.org/q.php"
	descriptionURL  = "https://thepiratebay.org/description.php?id="

	categoryMovies = "201"
	categoryTV     = "205"
)

type Config struct {
	Endpoint  string
	UserAgent string
	Trackers  []string
	Client    *http.Client
}

type Provider struct {
	client    *http.Client
	endpoint  string
	userAgent string
	trackers  []string
}

type apiItem struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	InfoHash string `json:"info_hash"`
	Size     string `json:"size"`
	Seeders  string `json:"seeders"`
	Leechers string `json:"leechers"`
	Added    string `json:"added"`
}

func NewProvider(cfg Config) *Provider {
	client := cfg.Client
	if client == nil {
		client = common.NewHTTPClient(20 * time.Second)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	trackers := cfg.Trackers
	if len(trackers) == 0 {
		trackers = common.DefaultTrackers
	}
	return &Provider{
		client:    client,
		endpoint:  endpoint,
		userAgent: cfg.UserAgent,
		trackers:  trackers,
	}
}

func (p *Provider) Name() string { return Name }

func (p *Provider) Kind() domain.RawKind { return domain.RawPirateBay }

func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	query := uri.Query()
	query.Set("q", strings.TrimSpace(request.Query))
	if cat := category(request.Category); cat != "" {
		query.Set("cat", cat)
	}
	uri.RawQuery = query.Encode()

	var items []apiItem
	if err := common.GetJSON(ctx, p.client, Name, uri.String(), p.userAgent, &items); err != nil {
		return nil, err
	}

	limit := request.Limit
	if limit <= 0 {
		limit = 50
	}
	results := make([]domain.SearchResult, 0, min(limit, len(items)))
	for _, item := range items {
		results = append(results, toResult(item))
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

// Magnet builds the link locally from the infohash; no request is made.
func (p *Provider) Magnet(raw domain.RawPayload) (string, error) {
	if raw.PirateBay == nil {
		return "", domain.ErrInvalidPayload
	}
	magnet := common.BuildMagnet(raw.PirateBay.InfoHash, raw.PirateBay.Name, p.trackers)
	if magnet == "" {
		return "", fmt.Errorf("%w: missing infohash", domain.ErrInvalidPayload)
	}
	return magnet, nil
}

func toResult(item apiItem) domain.SearchResult {
	name := strings.TrimSpace(item.Name)
	sizeBytes := atoi64(item.Size)
	seeds := atoi(item.Seeders)
	peers := atoi(item.Leechers)
	id := strings.TrimSpace(item.ID)

	return domain.SearchResult{
		Title:     name,
		Seeds:     &seeds,
		Peers:     &peers,
		Size:      common.FormatSize(sizeBytes),
		SizeBytes: sizeBytes,
		Provider:  Name,
		Link:      descriptionURL + id,
		Time:      formatAdded(item.Added),
		Raw: domain.RawPayload{
			Kind: domain.RawPirateBay,
			PirateBay: &domain.PirateBayPayload{
				ID:       id,
				InfoHash: common.NormalizeInfoHash(item.InfoHash),
				Name:     name,
			},
		},
	}
}

func category(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "movie", "movies":
		return categoryMovies
	case "tv", "show", "shows":
		return categoryTV
	default:
		return ""
	}
}

func formatAdded(raw string) string {
	ts := atoi64(raw)
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("2006-01-02")
}

func atoi(raw string) int {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return value
}

func atoi64(raw string) int64 {
	value, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}
	return value
}

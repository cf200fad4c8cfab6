package yts

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
	Name            = "YTS"
	defaultEndpoint = "https://yts.mx/api/v2/list_movies.json"
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

type listResponse struct {
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	Data          struct {
		MovieCount int     `json:"movie_count"`
		Movies     []movie `json:"movies"`
	} `json:"data"`
}

type movie struct {
	ID       int       `json:"id"`
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Year     int       `json:"year"`
	Torrents []torrent `json:"torrents"`
}

type torrent struct {
	Hash         string `json:"hash"`
	Quality      string `json:"quality"`
	Type         string `json:"type"`
	Seeds        *int   `json:"seeds"`
	Peers        *int   `json:"peers"`
	Size         string `json:"size"`
	SizeBytes    int64  `json:"size_bytes"`
	DateUploaded string `json:"date_uploaded"`
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

func (p *Provider) Kind() domain.RawKind { return domain.RawYTS }

// Search lists movies matching the query and emits one result per torrent
// quality. YTS only carries movies, so TV searches return nothing.
func (p *Provider) Search(ctx context.Context, request domain.SearchRequest) ([]domain.SearchResult, error) {
	switch strings.ToLower(strings.TrimSpace(request.Category)) {
	case "tv", "show", "shows":
		return nil, nil
	}
	limit := request.Limit
	if limit <= 0 {
		limit = 50
	}

	uri, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	query := uri.Query()
	query.Set("query_term", strings.TrimSpace(request.Query))
	query.Set("limit", strconv.Itoa(min(limit, 50)))
	uri.RawQuery = query.Encode()

	var payload listResponse
	if err := common.GetJSON(ctx, p.client, Name, uri.String(), p.userAgent, &payload); err != nil {
		return nil, err
	}
	if payload.Status != "" && payload.Status != "ok" {
		return nil, fmt.Errorf("%s: %s", Name, payload.StatusMessage)
	}

	var results []domain.SearchResult
	for _, m := range payload.Data.Movies {
		for _, t := range m.Torrents {
			results = append(results, toResult(m, t))
			if len(results) >= limit {
				return results, nil
			}
		}
	}
	return results, nil
}

func (p *Provider) Magnet(raw domain.RawPayload) (string, error) {
	if raw.YTS == nil {
		return "", domain.ErrInvalidPayload
	}
	name := strings.TrimSpace(raw.YTS.Title + " " + raw.YTS.Quality)
	magnet := common.BuildMagnet(raw.YTS.Hash, name, p.trackers)
	if magnet == "" {
		return "", fmt.Errorf("%w: missing hash", domain.ErrInvalidPayload)
	}
	return magnet, nil
}

func toResult(m movie, t torrent) domain.SearchResult {
	title := releaseTitle(m, t)
	size := strings.TrimSpace(t.Size)
	if size == "" {
		size = common.FormatSize(t.SizeBytes)
	}
	return domain.SearchResult{
		Title:     title,
		Seeds:     t.Seeds,
		Peers:     t.Peers,
		Size:      size,
		SizeBytes: t.SizeBytes,
		Provider:  Name,
		Link:      m.URL,
		Time:      uploadDate(t.DateUploaded),
		Raw: domain.RawPayload{
			Kind: domain.RawYTS,
			YTS: &domain.YTSPayload{
				MovieID: m.ID,
				Hash:    common.NormalizeInfoHash(t.Hash),
				Title:   m.Title,
				Quality: t.Quality,
			},
		},
	}
}

// releaseTitle renders the naming YTS uses for its own files, e.g.
// "Dune (2021) [1080p] [BluRay] [YTS.MX]".
func releaseTitle(m movie, t torrent) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(m.Title))
	if m.Year > 0 {
		fmt.Fprintf(&b, " (%d)", m.Year)
	}
	if t.Quality != "" {
		fmt.Fprintf(&b, " [%s]", t.Quality)
	}
	if source := sourceLabel(t.Type); source != "" {
		fmt.Fprintf(&b, " [%s]", source)
	}
	b.WriteString(" [YTS.MX]")
	return b.String()
}

func sourceLabel(kind string) string {
	switch strings.ToLower(kind) {
	case "bluray":
		return "BluRay"
	case "web":
		return "WEBRip"
	default:
		return strings.TrimSpace(kind)
	}
}

func uploadDate(raw string) string {
	ts, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return ts.Format("2006-01-02")
}

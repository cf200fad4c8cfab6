// Package transmission drives a remote Transmission daemon over its JSON RPC
// interface.
package transmission

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bitfinder/internal/domain"
	"bitfinder/internal/metrics"
	"bitfinder/internal/providers/common"
)

const (
	DefaultURL     = "http://localhost:9091/transmission/rpc"
	sessionHeader  = "X-Transmission-Session-Id"
	requestTimeout = 15 * time.Second
	maxResponse    = 8 * 1024 * 1024
)

// ErrRPC is returned when the daemon answers with a result other than
// "success".
var ErrRPC = errors.New("transmission rpc failed")

var torrentFields = []string{
	"id", "name", "hashString", "status", "percentDone", "totalSize",
	"rateDownload", "rateUpload", "peersConnected", "eta", "downloadDir", "errorString",
}

type Config struct {
	URL      string
	Username string
	Password string
	Client   *http.Client
}

// Client is safe for concurrent use. Without credentials every call fails
// with domain.ErrNotConfigured.
type Client struct {
	url      string
	username string
	password string
	client   *http.Client

	mu        sync.Mutex
	sessionID string
}

type rpcRequest struct {
	Method    string `json:"method"`
	Arguments any    `json:"arguments,omitempty"`
}

type rpcResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments"`
}

type rpcTorrent struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	HashString     string  `json:"hashString"`
	Status         int     `json:"status"`
	PercentDone    float64 `json:"percentDone"`
	TotalSize      int64   `json:"totalSize"`
	RateDownload   int64   `json:"rateDownload"`
	RateUpload     int64   `json:"rateUpload"`
	PeersConnected int     `json:"peersConnected"`
	ETA            int64   `json:"eta"`
	DownloadDir    string  `json:"downloadDir"`
	ErrorString    string  `json:"errorString"`
}

type addResponse struct {
	Added     *rpcTorrent `json:"torrent-added"`
	Duplicate *rpcTorrent `json:"torrent-duplicate"`
}

type getResponse struct {
	Torrents []rpcTorrent `json:"torrents"`
}

func New(cfg Config) *Client {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		url = DefaultURL
	}
	client := cfg.Client
	if client == nil {
		client = common.NewHTTPClient(requestTimeout)
	}
	return &Client{
		url:      url,
		username: cfg.Username,
		password: cfg.Password,
		client:   client,
	}
}

// Configured reports whether credentials were supplied.
func (c *Client) Configured() bool {
	return c != nil && c.username != "" && c.password != ""
}

// Add hands a magnet link to the daemon. A torrent the daemon already has is
// returned as is.
func (c *Client) Add(ctx context.Context, magnet string) (domain.RemoteTorrent, error) {
	if strings.TrimSpace(magnet) == "" {
		return domain.RemoteTorrent{}, domain.ErrInvalidMagnet
	}
	var out addResponse
	if err := c.call(ctx, "torrent-add", map[string]any{"filename": magnet}, &out); err != nil {
		return domain.RemoteTorrent{}, err
	}
	switch {
	case out.Added != nil:
		return toRemote(*out.Added), nil
	case out.Duplicate != nil:
		return toRemote(*out.Duplicate), nil
	}
	return domain.RemoteTorrent{}, fmt.Errorf("%w: torrent-add returned no torrent", ErrRPC)
}

func (c *Client) List(ctx context.Context) ([]domain.RemoteTorrent, error) {
	var out getResponse
	if err := c.call(ctx, "torrent-get", map[string]any{"fields": torrentFields}, &out); err != nil {
		return nil, err
	}
	torrents := make([]domain.RemoteTorrent, 0, len(out.Torrents))
	for _, t := range out.Torrents {
		torrents = append(torrents, toRemote(t))
	}
	return torrents, nil
}

func (c *Client) Pause(ctx context.Context, id int64) error {
	return c.call(ctx, "torrent-stop", map[string]any{"ids": []int64{id}}, nil)
}

func (c *Client) Resume(ctx context.Context, id int64) error {
	return c.call(ctx, "torrent-start", map[string]any{"ids": []int64{id}}, nil)
}

func (c *Client) Remove(ctx context.Context, id int64, deleteData bool) error {
	return c.call(ctx, "torrent-remove", map[string]any{
		"ids":               []int64{id},
		"delete-local-data": deleteData,
	}, nil)
}

func (c *Client) call(ctx context.Context, method string, args any, out any) (err error) {
	if !c.Configured() {
		return domain.ErrNotConfigured
	}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.DaemonRequestsTotal.WithLabelValues(method, status).Inc()
	}()

	body, err := json.Marshal(rpcRequest{Method: method, Arguments: args})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusConflict {
		// The daemon hands out a fresh session id on 409; retry once with it.
		c.setSessionID(resp.Header.Get(sessionHeader))
		drain(resp)
		if resp, err = c.post(ctx, body); err != nil {
			return err
		}
	}
	defer drain(resp)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &common.StatusError{Backend: "transmission", Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponse)).Decode(&decoded); err != nil {
		return fmt.Errorf("transmission: decode %s response: %w", method, err)
	}
	if decoded.Result != "success" {
		return fmt.Errorf("%w: %s: %s", ErrRPC, method, decoded.Result)
	}
	if out != nil && len(decoded.Arguments) > 0 {
		if err := json.Unmarshal(decoded.Arguments, out); err != nil {
			return fmt.Errorf("transmission: decode %s arguments: %w", method, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.username, c.password)
	if id := c.currentSessionID(); id != "" {
		req.Header.Set(sessionHeader, id)
	}
	return c.client.Do(req)
}

func (c *Client) currentSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) setSessionID(id string) {
	c.mu.Lock()
	c.sessionID = id
	c.mu.Unlock()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponse))
	_ = resp.Body.Close()
}

func toRemote(t rpcTorrent) domain.RemoteTorrent {
	return domain.RemoteTorrent{
		ID:             t.ID,
		Name:           t.Name,
		HashString:     strings.ToLower(t.HashString),
		Status:         statusName(t.Status),
		Progress:       t.PercentDone,
		TotalSize:      t.TotalSize,
		DownloadSpeed:  t.RateDownload,
		UploadSpeed:    t.RateUpload,
		PeersConnected: t.PeersConnected,
		ETA:            t.ETA,
		DownloadDir:    t.DownloadDir,
		Error:          t.ErrorString,
	}
}

// statusName maps Transmission's numeric status codes.
func statusName(code int) domain.RemoteStatus {
	switch code {
	case 1, 2:
		return domain.RemoteChecking
	case 3, 5:
		return domain.RemoteQueued
	case 4:
		return domain.RemoteDownloading
	case 6:
		return domain.RemoteSeeding
	default:
		return domain.RemoteStopped
	}
}

package lrclib

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Client LRCLib客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	requestTimeout time.Duration
	maxRetries     int
	logger         zerolog.Logger
}

// Response LRCLib API响应结构
type Response struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	TrackName    string  `json:"trackName"`
	ArtistName   string  `json:"artistName"`
	AlbumName    string  `json:"albumName"`
	Duration     float64 `json:"duration"`
	Instrumental bool    `json:"instrumental"`
	PlainLyrics  string  `json:"plainLyrics"`
	SyncedLyrics string  `json:"syncedLyrics"`
}

// NewClient 创建新的LRCLib客户端
func NewClient() *Client {
	return NewClientWithURL("https://lrclib.net/api")
}

// NewClientWithURL 使用自定义地址创建客户端（测试用）
func NewClientWithURL(baseURL string) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		baseURL:        baseURL,
		requestTimeout: 5 * time.Second,
		maxRetries:     3,
		logger:         log.With().Str("component", "lrclib").Logger(),
	}
}

func (c *Client) Name() string {
	return "lrclib"
}

// Search 按标题和艺术家搜索歌词，时长不作为查询参数，由调用方筛选
func (c *Client) Search(ctx context.Context, title, artist string) ([]Response, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	params := url.Values{}
	params.Set("track_name", title)
	if artist != "" {
		params.Set("artist_name", artist)
	}
	searchURL := fmt.Sprintf("%s/search?%s", c.baseURL, params.Encode())

	var resp *http.Response
	var err error

	// 重试机制
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Info().Int("attempt", attempt).Int("max_retries", c.maxRetries).Msg("Retrying request")
			select {
			case <-time.After(time.Duration(attempt*500) * time.Millisecond):
			case <-timeoutCtx.Done():
				return nil, timeoutCtx.Err()
			}
		}

		req, reqErr := http.NewRequestWithContext(timeoutCtx, http.MethodGet, searchURL, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("failed to create request: %w", reqErr)
		}
		req.Header.Set("User-Agent", "lyricsync/1.0")

		resp, err = c.httpClient.Do(req)
		if err == nil && resp.StatusCode == http.StatusOK {
			break
		}

		if err != nil {
			c.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Request failed")
			if timeoutCtx.Err() != nil {
				return nil, fmt.Errorf("request aborted: %w", err)
			}
		} else {
			c.logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt+1).Msg("Request returned error status")
			resp.Body.Close()
			// 4xx 不会因为重试而改变
			if resp.StatusCode < http.StatusInternalServerError {
				return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
			}
		}

		if attempt == c.maxRetries {
			if err != nil {
				return nil, fmt.Errorf("request failed after %d attempts: %w", attempt+1, err)
			}
			return nil, fmt.Errorf("request failed after %d attempts with status %d", attempt+1, resp.StatusCode)
		}
	}
	defer resp.Body.Close()

	var results []Response
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug().Int("results", len(results)).Str("title", title).Str("artist", artist).Msg("Search finished")
	return results, nil
}

package netease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SearchResponse 网易云搜索API响应
type SearchResponse struct {
	Result struct {
		Songs []Song `json:"songs"`
	} `json:"result"`
}

// Song 搜索结果中的歌曲
type Song struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	// 毫秒
	Duration int `json:"duration"`
}

// ArtistName 返回第一个艺术家名
func (s Song) ArtistName() string {
	if len(s.Artists) == 0 {
		return ""
	}
	return s.Artists[0].Name
}

// LyricResponse 网易云歌词API响应
type LyricResponse struct {
	Lrc struct {
		Lyric string `json:"lyric"`
	} `json:"lrc"`
	Tlyric struct {
		Lyric string `json:"lyric"`
	} `json:"tlyric"`
}

// Client 网易云音乐客户端
type Client struct {
	httpClient     *http.Client
	baseURL        string
	cookie         string
	maxRetries     int
	requestTimeout time.Duration
	logger         zerolog.Logger
}

// NewClient 创建新的网易云音乐客户端
func NewClient(cookie string) *Client {
	return &Client{
		httpClient:     &http.Client{Timeout: 8 * time.Second},
		baseURL:        "https://music.163.com/api",
		cookie:         cookie,
		maxRetries:     3,
		requestTimeout: 8 * time.Second,
		logger:         log.With().Str("component", "netease").Logger(),
	}
}

func (c *Client) Name() string {
	return "netease"
}

// SearchSongs 按关键字搜索歌曲
func (c *Client) SearchSongs(ctx context.Context, keyword string, limit int) ([]Song, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("s", keyword)
	params.Set("type", "1")
	params.Set("limit", strconv.Itoa(limit))
	searchURL := fmt.Sprintf("%s/search/get/web?%s", c.baseURL, params.Encode())

	var searchResp SearchResponse
	if err := c.getJSON(ctx, searchURL, &searchResp); err != nil {
		return nil, fmt.Errorf("search %q: %w", keyword, err)
	}
	return searchResp.Result.Songs, nil
}

// GetLyrics 获取歌词（原文与翻译）
func (c *Client) GetLyrics(ctx context.Context, songID int) (*LyricResponse, error) {
	lyricURL := fmt.Sprintf("%s/song/lyric?os=pc&id=%d&lv=-1&kv=-1&tv=-1", c.baseURL, songID)

	var lyricResp LyricResponse
	if err := c.getJSON(ctx, lyricURL, &lyricResp); err != nil {
		return nil, fmt.Errorf("lyrics for %d: %w", songID, err)
	}
	return &lyricResp, nil
}

func (c *Client) getJSON(ctx context.Context, rawURL string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	// 设置Cookie
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	req.Header.Set("Referer", "https://music.163.com")

	resp, err := c.doRequestWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// doRequestWithRetry 发送请求，网络错误和 5xx 状态会重试，最多 maxRetries 次
func (c *Client) doRequestWithRetry(req *http.Request) (*http.Response, error) {
	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * 100 * time.Millisecond):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Warn().Err(err).Int("attempt", attempt).Msg("Request failed")
			if req.Context().Err() != nil {
				break
			}
			continue
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			resp.Body.Close()
			lastErr = fmt.Errorf("server returned status %d", resp.StatusCode)
			c.logger.Warn().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("Request failed")
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("request failed after retries: %w", lastErr)
}

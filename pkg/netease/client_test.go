package netease

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClientRetry 测试重试机制
func TestClientRetry(t *testing.T) {
	// 创建一个计数器，记录请求次数
	requestCount := 0

	// 创建测试服务器，模拟间歇性失败
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		if requestCount <= 2 {
			// 前两次请求失败
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"result":{"songs":[{"id":123,"name":"Test Song","artists":[{"name":"Test Artist"}]}]}}`))
	}))
	defer server.Close()

	client := &Client{
		httpClient:     &http.Client{Timeout: 1 * time.Second},
		maxRetries:     3,
		requestTimeout: 2 * time.Second,
		logger:         log.Logger,
	}

	req, err := http.NewRequest("GET", server.URL, nil)
	require.NoError(t, err)

	resp, err := client.doRequestWithRetry(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 3, requestCount)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// TestTimeout 测试超时机制
func TestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := &Client{
		httpClient:     &http.Client{Timeout: 1 * time.Second},
		maxRetries:     1,
		requestTimeout: 1 * time.Second,
		logger:         log.Logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", server.URL, nil)
	require.NoError(t, err)

	_, err = client.doRequestWithRetry(req)
	assert.Error(t, err)
}

func TestSearchAndLyrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/get/web", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Halo Beyonce", r.URL.Query().Get("s"))
		assert.Equal(t, "MUSIC_U=abc", r.Header.Get("Cookie"))
		w.Write([]byte(`{"result":{"songs":[{"id":7,"name":"Halo","artists":[{"name":"Beyonce"}],"album":{"name":"I Am"},"duration":261000}]}}`))
	})
	mux.HandleFunc("/song/lyric", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("id"))
		w.Write([]byte(`{"lrc":{"lyric":"[00:01.00]Remember"},"tlyric":{"lyric":"[00:01.00]记得"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient("MUSIC_U=abc")
	client.baseURL = server.URL

	songs, err := client.SearchSongs(context.Background(), "Halo Beyonce", 5)
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "Beyonce", songs[0].ArtistName())
	assert.Equal(t, 261000, songs[0].Duration)

	lyr, err := client.GetLyrics(context.Background(), songs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "[00:01.00]Remember", lyr.Lrc.Lyric)
	assert.Equal(t, "[00:01.00]记得", lyr.Tlyric.Lyric)
}

package subtitles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"hypertube/internal/domain"
)

const (
	openSubtitlesBaseURL = "https://api.opensubtitles.com/api/v1"
	providerTimeout      = 10 * time.Second
	maxSubtitleBytes     = 4 << 20
)

// OpenSubtitlesClient implements Provider against the OpenSubtitles REST API.
type OpenSubtitlesClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenSubtitlesClient(apiKey string) *OpenSubtitlesClient {
	return &OpenSubtitlesClient{
		apiKey:  apiKey,
		baseURL: openSubtitlesBaseURL,
		client:  &http.Client{Timeout: providerTimeout},
	}
}

type searchResponse struct {
	Data []struct {
		Attributes struct {
			Files []struct {
				FileID int64 `json:"file_id"`
			} `json:"files"`
		} `json:"attributes"`
	} `json:"data"`
}

type downloadResponse struct {
	Link string `json:"link"`
}

func (c *OpenSubtitlesClient) FetchByIMDb(ctx context.Context, imdbID, language string) ([]byte, error) {
	query := url.Values{
		"imdb_id":   {strings.TrimPrefix(imdbID, "tt")},
		"languages": {language},
	}
	return c.fetch(ctx, query)
}

func (c *OpenSubtitlesClient) SearchByTitle(ctx context.Context, title string, year int, language string) ([]byte, error) {
	query := url.Values{
		"query":     {title},
		"languages": {language},
	}
	if year > 0 {
		query.Set("year", strconv.Itoa(year))
	}
	return c.fetch(ctx, query)
}

func (c *OpenSubtitlesClient) fetch(ctx context.Context, query url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, domain.ErrNotFound
	}

	fileID, err := c.search(ctx, query)
	if err != nil {
		return nil, err
	}

	link, err := c.downloadLink(ctx, fileID)
	if err != nil {
		return nil, err
	}

	return c.download(ctx, link)
}

func (c *OpenSubtitlesClient) search(ctx context.Context, query url.Values) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/subtitles?"+query.Encode(), nil)
	if err != nil {
		return 0, err
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("opensubtitles search: unexpected status %d", resp.StatusCode)
	}

	var payload searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, err
	}
	for _, item := range payload.Data {
		for _, file := range item.Attributes.Files {
			if file.FileID > 0 {
				return file.FileID, nil
			}
		}
	}
	return 0, domain.ErrNotFound
}

func (c *OpenSubtitlesClient) downloadLink(ctx context.Context, fileID int64) (string, error) {
	body, err := json.Marshal(map[string]int64{"file_id": fileID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("opensubtitles download: unexpected status %d", resp.StatusCode)
	}

	var payload downloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	if payload.Link == "" {
		return "", domain.ErrNotFound
	}
	return payload.Link, nil
}

func (c *OpenSubtitlesClient) download(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("opensubtitles file: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSubtitleBytes))
}

func (c *OpenSubtitlesClient) setHeaders(req *http.Request) {
	req.Header.Set("Api-Key", c.apiKey)
	req.Header.Set("User-Agent", "hypertube v1.0")
	req.Header.Set("Accept", "application/json")
}

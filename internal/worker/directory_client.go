package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/relaydesk/taskrelay/internal/jobs"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDirectory queries a JSON directory endpoint:
//
//	GET {URL}?q=...&location=...&page=N  ->  {"results": [...], "more": true}
type HTTPDirectory struct {
	URL   string
	Token string
	HTTP  *http.Client
}

var _ DirectorySource = (*HTTPDirectory)(nil)

func NewHTTPDirectory(endpoint, token string) *HTTPDirectory {
	return &HTTPDirectory{
		URL:   endpoint,
		Token: token,
		HTTP:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (d *HTTPDirectory) Search(ctx context.Context, params jobs.SearchParams, page int) ([]map[string]any, bool, error) {
	q := url.Values{}
	q.Set("q", params.Keywords)
	if params.Location != "" {
		q.Set("location", params.Location)
	}
	q.Set("page", strconv.Itoa(page))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.URL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	resp, err := d.HTTP.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, false, fmt.Errorf("directory returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Results []map[string]any `json:"results"`
		More    bool             `json:"more"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("decode directory page %d: %w", page, err)
	}
	return out.Results, out.More, nil
}

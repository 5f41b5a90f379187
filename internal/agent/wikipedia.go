package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultWikipediaURL = "https://en.wikipedia.org"
	noWikipediaResult   = "No good Wikipedia Search Result was found"
	maxSummaryRunes     = 4000
)

type WikipediaInput struct {
	Query string `json:"query" jsonschema_description:"Topic or page title to look up."`
}

var WikipediaInputSchema = GenerateSchema[WikipediaInput]()

// WikipediaClient resolves a query to a page and fetches its summary.
type WikipediaClient struct {
	baseURL   string
	client    *http.Client
	userAgent string
}

func NewWikipediaClient(baseURL string, timeout time.Duration) *WikipediaClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultWikipediaURL
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &WikipediaClient{
		baseURL:   baseURL,
		client:    &http.Client{Timeout: timeout},
		userAgent: "ava/1.0 (personal assistant)",
	}
}

func WikipediaTool(c *WikipediaClient) Tool {
	if c == nil {
		c = NewWikipediaClient("", 0)
	}
	return Tool{
		Name:         "wikipedia",
		Description:  "Use this for general knowledge questions. Returns a short encyclopedia summary.",
		InputSchema:  WikipediaInputSchema,
		PrimaryField: "query",
		Call: func(ctx context.Context, input json.RawMessage) (string, error) {
			var in WikipediaInput
			if err := json.Unmarshal(input, &in); err != nil {
				return "", err
			}
			return c.Summary(ctx, in.Query)
		},
	}
}

// Summary returns "Page: <title>\nSummary: <extract>" for the best match of query.
func (c *WikipediaClient) Summary(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return noWikipediaResult, nil
	}

	search := url.Values{}
	search.Set("action", "opensearch")
	search.Set("search", query)
	search.Set("limit", "1")
	search.Set("namespace", "0")
	search.Set("format", "json")
	body, status, err := c.get(ctx, c.baseURL+"/w/api.php?"+search.Encode())
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("wikipedia search status %d", status)
	}
	title := gjson.GetBytes(body, "1.0").String()
	if title == "" {
		return noWikipediaResult, nil
	}

	body, status, err = c.get(ctx, c.baseURL+"/api/rest_v1/page/summary/"+url.PathEscape(strings.ReplaceAll(title, " ", "_")))
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return noWikipediaResult, nil
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("wikipedia summary status %d", status)
	}

	res := gjson.ParseBytes(body)
	extract := strings.TrimSpace(res.Get("extract").String())
	if extract == "" {
		return noWikipediaResult, nil
	}
	if r := []rune(extract); len(r) > maxSummaryRunes {
		extract = string(r[:maxSummaryRunes])
	}
	if t := res.Get("title").String(); t != "" {
		title = t
	}
	return fmt.Sprintf("Page: %s\nSummary: %s", title, extract), nil
}

func (c *WikipediaClient) get(ctx context.Context, u string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("wikipedia request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, res.StatusCode, fmt.Errorf("read wikipedia response: %w", err)
	}
	return body, res.StatusCode, nil
}

// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package websearch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// serpAPIProvider queries serpapi.com.
type serpAPIProvider struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

func newSerpAPIProvider(cfg *config.WebConfig) (*serpAPIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for serpapi")
	}
	return &serpAPIProvider{
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second},
		baseURL: "https://serpapi.com/search.json",
	}, nil
}

func (p *serpAPIProvider) Name() string { return "serpapi" }

func (p *serpAPIProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	const op = "websearch.serpapi"

	q := url.Values{}
	q.Set("q", query)
	q.Set("api_key", p.apiKey)
	q.Set("num", strconv.Itoa(k))

	body, err := getJSON(ctx, p.client, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "search failed")
	}

	var parsed struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "decode response")
	}

	results := make([]Result, 0, k)
	for _, r := range parsed.OrganicResults {
		if len(results) == k {
			break
		}
		results = append(results, Result{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}

// bingProvider queries the Bing web search API.
type bingProvider struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

func newBingProvider(cfg *config.WebConfig) (*bingProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for bing")
	}
	return &bingProvider{
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second},
		baseURL: "https://api.bing.microsoft.com/v7.0/search",
	}, nil
}

func (p *bingProvider) Name() string { return "bing" }

func (p *bingProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	const op = "websearch.bing"

	q := url.Values{}
	q.Set("q", query)
	q.Set("count", strconv.Itoa(k))

	headers := map[string]string{"Ocp-Apim-Subscription-Key": p.apiKey}
	body, err := getJSON(ctx, p.client, p.baseURL+"?"+q.Encode(), headers)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "search failed")
	}

	var parsed struct {
		WebPages struct {
			Value []struct {
				Name    string `json:"name"`
				URL     string `json:"url"`
				Snippet string `json:"snippet"`
			} `json:"value"`
		} `json:"webPages"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "decode response")
	}

	results := make([]Result, 0, k)
	for _, r := range parsed.WebPages.Value {
		if len(results) == k {
			break
		}
		results = append(results, Result{Title: r.Name, URL: r.URL, Snippet: r.Snippet})
	}
	return results, nil
}

// ddgProvider scrapes the DuckDuckGo HTML endpoint; no API key needed.
type ddgProvider struct {
	client    *http.Client
	baseURL   string
	userAgent string
}

func newDDGProvider(cfg *config.WebConfig) *ddgProvider {
	return &ddgProvider{
		client:    &http.Client{Timeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second},
		baseURL:   "https://html.duckduckgo.com/html/",
		userAgent: cfg.UserAgent,
	}
}

func (p *ddgProvider) Name() string { return "ddg" }

func (p *ddgProvider) Search(ctx context.Context, query string, k int) ([]Result, error) {
	const op = "websearch.ddg"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "search failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.KindTransient, op, "status %d", resp.StatusCode)
	}

	results, err := parseDDGResults(resp.Body, k)
	if err != nil {
		return nil, fault.Wrapf(fault.KindTransient, op, err, "parse results")
	}
	return results, nil
}

// parseDDGResults walks the result list markup: anchors classed result__a
// carry title and (redirected) link, result__snippet the snippet.
func parseDDGResults(r io.Reader, k int) ([]Result, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var results []Result
	var current *Result

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if len(results) >= k {
			return
		}
		if n.Type == html.ElementNode {
			classes := attrValue(n, "class")
			switch {
			case n.Data == "a" && strings.Contains(classes, "result__a"):
				if current != nil && current.URL != "" {
					results = append(results, *current)
				}
				current = &Result{Title: nodeText(n)}
				if href := attrValue(n, "href"); href != "" {
					if normalized, err := NormalizeURL(href); err == nil {
						current.URL = normalized
					}
				}
			case strings.Contains(classes, "result__snippet"):
				if current != nil {
					current.Snippet = nodeText(n)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if current != nil && current.URL != "" && len(results) < k {
		results = append(results, *current)
	}
	return results, nil
}

func attrValue(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

func getJSON(ctx context.Context, client *http.Client, url string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

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

// Package websearch provides the public web search capability and page
// fetching for the deep research agent.
package websearch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Provider searches the public web.
type Provider interface {
	// Search returns up to k results.
	Search(ctx context.Context, query string, k int) ([]Result, error)

	// Name identifies the provider.
	Name() string
}

// New creates a provider from configuration. Provider "none" returns nil:
// web search is disabled and callers must treat a nil provider as absent.
func New(cfg *config.WebConfig) (Provider, error) {
	switch cfg.Provider {
	case "serpapi":
		return newSerpAPIProvider(cfg)
	case "bing":
		return newBingProvider(cfg)
	case "ddg":
		return newDDGProvider(cfg), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown web search provider: %q", cfg.Provider)
	}
}

// NormalizeURL validates the scheme and strips known redirector indirection
// so fetched URLs point at the real destination.
func NormalizeURL(raw string) (string, error) {
	const op = "websearch.normalize_url"

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fault.Wrapf(fault.KindValidation, op, err, "invalid url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fault.New(fault.KindValidation, op, "unsupported scheme: %q", u.Scheme)
	}

	// Known redirectors carry the destination in a query parameter.
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.HasSuffix(host, "duckduckgo.com") && strings.HasPrefix(u.Path, "/l/"):
		if dest := u.Query().Get("uddg"); dest != "" {
			return NormalizeURL(dest)
		}
	case strings.HasSuffix(host, "google.com") && u.Path == "/url":
		if dest := u.Query().Get("q"); dest != "" {
			return NormalizeURL(dest)
		}
	case strings.HasSuffix(host, "bing.com") && strings.HasPrefix(u.Path, "/ck/"):
		if dest := u.Query().Get("u"); dest != "" {
			return NormalizeURL(dest)
		}
	}

	return u.String(), nil
}

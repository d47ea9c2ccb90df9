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
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/extract"
	"github.com/kadirpekel/sage/pkg/fault"
)

// maxFetchBytes caps one page download.
const maxFetchBytes = 2 << 20

// Fetcher downloads pages and reduces them to text.
type Fetcher struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// NewFetcher creates a fetcher with the configured per-fetch timeout.
func NewFetcher(cfg *config.WebConfig) *Fetcher {
	timeout := time.Duration(cfg.FetchTimeoutSeconds) * time.Second
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		timeout:   timeout,
		userAgent: cfg.UserAgent,
	}
}

// FetchText downloads the page and returns its normalized text and title.
// The URL is normalized first; non-HTTP(S) schemes are rejected.
func (f *Fetcher) FetchText(ctx context.Context, rawURL string) (text string, title string, err error) {
	const op = "websearch.fetch"

	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, normalized, nil)
	if err != nil {
		return "", "", fault.Wrapf(fault.KindValidation, op, err, "build request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fault.Wrapf(fault.KindTransient, op, err, "fetch %s", normalized)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fault.New(fault.KindTransient, op, "fetch %s: status %d", normalized, resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxFetchBytes)
	contentType := resp.Header.Get("Content-Type")

	if strings.Contains(contentType, "text/html") || contentType == "" {
		raw, pageTitle, err := extract.HTMLToText(body)
		if err != nil {
			return "", "", fault.Wrapf(fault.KindTransient, op, err, "parse %s", normalized)
		}
		return extract.NormalizeText(raw), pageTitle, nil
	}

	if strings.Contains(contentType, "text/") || strings.Contains(contentType, "json") {
		data, err := io.ReadAll(body)
		if err != nil {
			return "", "", fault.Wrapf(fault.KindTransient, op, err, "read %s", normalized)
		}
		return extract.NormalizeText(string(data)), "", nil
	}

	return "", "", fault.New(fault.KindUnsupported, op, "unsupported content type %q", contentType)
}

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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

func webConfig() *config.WebConfig {
	cfg := &config.WebConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://example.com/page", "https://example.com/page", false},
		{"//example.com/page", "https://example.com/page", false},
		{"ftp://example.com/file", "", true},
		{"javascript:alert(1)", "", true},
		{
			"https://duckduckgo.com/l/?uddg=https%3A%2F%2Freal.example.com%2Fdoc",
			"https://real.example.com/doc",
			false,
		},
		{
			"https://www.google.com/url?q=https%3A%2F%2Ftarget.example.org%2F",
			"https://target.example.org/",
			false,
		},
	}
	for _, tt := range tests {
		got, err := NormalizeURL(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			assert.Equal(t, fault.KindValidation, fault.KindOf(err))
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestProviderSelection(t *testing.T) {
	cfg := webConfig()

	p, err := New(cfg)
	require.NoError(t, err)
	assert.Nil(t, p, "provider none disables web search")

	cfg.Provider = "ddg"
	p, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ddg", p.Name())

	cfg.Provider = "serpapi"
	_, err = New(cfg)
	assert.Error(t, err, "serpapi requires an api key")

	cfg.APIKey = "key"
	p, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "serpapi", p.Name())
}

func TestParseDDGResults(t *testing.T) {
	page := `<html><body>
<div class="result">
	<a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fone.example.com%2F">First Result</a>
	<a class="result__snippet">Snippet one here.</a>
</div>
<div class="result">
	<a class="result__a" href="https://two.example.com/">Second Result</a>
	<a class="result__snippet">Snippet two here.</a>
</div>
</body></html>`

	results, err := parseDDGResults(strings.NewReader(page), 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "First Result", results[0].Title)
	assert.Equal(t, "https://one.example.com/", results[0].URL, "redirector is stripped")
	assert.Equal(t, "Snippet one here.", results[0].Snippet)
	assert.Equal(t, "https://two.example.com/", results[1].URL)
}

func TestFetchText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Page</title></head><body><p>Hello  world.</p></body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(webConfig())
	text, title, err := f.FetchText(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "Page", title)
	assert.Contains(t, text, "Hello world.")
}

func TestFetchRejectsBadScheme(t *testing.T) {
	f := NewFetcher(webConfig())
	_, _, err := f.FetchText(context.Background(), "file:///etc/passwd")
	require.Error(t, err)
	assert.Equal(t, fault.KindValidation, fault.KindOf(err))
}

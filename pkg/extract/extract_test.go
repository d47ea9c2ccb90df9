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

package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/sage/pkg/config"
	"github.com/kadirpekel/sage/pkg/fault"
)

func testConfig() config.ExtractionConfig {
	cfg := config.ExtractionConfig{}
	cfg.SetDefaults()
	return cfg
}

func TestResolveSourceType(t *testing.T) {
	assert.Equal(t, "pdf", ResolveSourceType("", "report.PDF"))
	assert.Equal(t, "html", ResolveSourceType("", "page.htm"))
	assert.Equal(t, "image", ResolveSourceType("", "photo.jpeg"))
	assert.Equal(t, "md", ResolveSourceType("", "notes.markdown"))
	assert.Equal(t, "txt", ResolveSourceType("", "mystery.bin"))
	assert.Equal(t, "pdf", ResolveSourceType("PDF", "whatever.dat"), "declared type wins")
}

func TestUnsupportedTypesRejected(t *testing.T) {
	r := NewRegistry(testConfig(), nil, nil)
	for _, name := range []string{"song.mp3", "movie.mp4", "clip.mov"} {
		_, err := r.Extract(context.Background(), "", name)
		require.Error(t, err, name)
		assert.Equal(t, fault.KindUnsupported, fault.KindOf(err), name)
	}
}

func TestTextExtraction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("First   paragraph.\n\n\n\nSecond  paragraph."), 0644))

	r := NewRegistry(testConfig(), nil, nil)
	res, err := r.Extract(context.Background(), "", path)
	require.NoError(t, err)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", res.Text)
	assert.Equal(t, "notes", res.Title)
}

func TestJSONBreadcrumbs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"server":{"port":8080,"hosts":["a","b"]}}`), 0644))

	r := NewRegistry(testConfig(), nil, nil)
	res, err := r.Extract(context.Background(), "", path)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "server.port: 8080")
	assert.Contains(t, res.Text, "server.hosts[0]: a")
}

func TestCSVExtraction(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sales.csv")
	require.NoError(t, os.WriteFile(path, []byte("region,total\nnorth,100\nsouth,200\n"), 0644))

	r := NewRegistry(testConfig(), nil, nil)
	res, err := r.Extract(context.Background(), "", path)
	require.NoError(t, err)
	assert.Contains(t, res.Text, "region | total", "header row keeps its own line")
	assert.Contains(t, res.Text, "north 100")
	assert.Len(t, res.Tables, 3)
}

func TestHTMLToText(t *testing.T) {
	page := `<html><head><title>Doc Title</title><style>p{}</style></head>
<body><nav>skip me</nav><h1>Heading</h1><p>First para.</p><p>Second para.</p>
<aside>also skipped</aside></body></html>`

	text, title, err := HTMLToText(strings.NewReader(page))
	require.NoError(t, err)
	assert.Equal(t, "Doc Title", title)
	assert.NotContains(t, text, "skip me")
	assert.NotContains(t, text, "also skipped")
	assert.Contains(t, text, "Heading")
	assert.Contains(t, text, "First para.")

	normalized := NormalizeText(text)
	assert.Contains(t, normalized, "First para.\n\nSecond para.")
}

func TestNormalizeText(t *testing.T) {
	in := "A  line\twith   gaps\r\n\r\n\r\nNext para\n"
	assert.Equal(t, "A line with gaps\n\nNext para", NormalizeText(in))
}

func TestHyphenationRepair(t *testing.T) {
	in := "The imple-\nmentation details"
	assert.Equal(t, "The implementation details", NormalizeText(in))

	// A hyphen before an uppercase continuation is a real compound; keep it.
	in = "The X-\nRay machine"
	assert.Contains(t, NormalizeText(in), "X-\nRay")
}

func TestStripRepeatingLines(t *testing.T) {
	pages := []string{
		"ACME Corp Confidential\ncontent one\nPage 1",
		"ACME Corp Confidential\ncontent two\nPage 2",
		"ACME Corp Confidential\ncontent three\nPage 3",
	}
	stripped := StripRepeatingLines(pages, 3)
	for i, page := range stripped {
		assert.NotContains(t, page, "ACME Corp Confidential", "page %d", i)
		assert.Contains(t, page, "content")
	}
}

func TestLooksLikeHeading(t *testing.T) {
	assert.True(t, LooksLikeHeading("Data Protection Principles"))
	assert.True(t, LooksLikeHeading("SECTION 4"))
	assert.False(t, LooksLikeHeading("this is a normal sentence that ends here."))
	assert.False(t, LooksLikeHeading(""))
}

func TestVisualTags(t *testing.T) {
	tags := VisualTags("/tmp/quarterly_revenue_chart.png", "Revenue 2024 Q1 100.5", 800, 600)
	assert.Contains(t, tags, "landscape")
	assert.Contains(t, tags, "quarterly")
	assert.Contains(t, tags, "revenue")
	assert.Contains(t, tags, "chart")
	assert.NotContains(t, tags, "100.5", "numeric noise is filtered")
	assert.NotContains(t, tags, "q1", "short tokens are filtered")
}

// fakeCaptioner scripts primary/fallback behavior.
type fakeCaptioner struct {
	primaryErr error
	calls      []bool
}

func (f *fakeCaptioner) Caption(ctx context.Context, fileName, ocrText string, small bool) (string, error) {
	f.calls = append(f.calls, small)
	if !small && f.primaryErr != nil {
		return "", f.primaryErr
	}
	if small {
		return "small caption", nil
	}
	return "big caption", nil
}

func writeTestPNG(t *testing.T, dir string) string {
	t.Helper()
	// Minimal 1x1 PNG.
	data := []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
		0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
		0x08, 0x02, 0x00, 0x00, 0x00, 0x90, 0x77, 0x53, 0xde, 0x00, 0x00, 0x00,
		0x0c, 0x49, 0x44, 0x41, 0x54, 0x08, 0xd7, 0x63, 0xf8, 0xcf, 0xc0, 0x00,
		0x00, 0x00, 0x03, 0x00, 0x01, 0x9a, 0x60, 0xe1, 0xd5, 0x00, 0x00, 0x00,
		0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
	path := filepath.Join(dir, "white_dot.png")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func TestImageCaptionPrimary(t *testing.T) {
	path := writeTestPNG(t, t.TempDir())
	fc := &fakeCaptioner{}
	r := NewRegistry(testConfig(), fc, nil)

	res, err := r.Extract(context.Background(), "", path)
	require.NoError(t, err)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "big caption", res.Images[0].Caption)
	assert.Equal(t, "primary", res.Images[0].CaptionSource)
}

func TestImageCaptionFallback(t *testing.T) {
	path := writeTestPNG(t, t.TempDir())
	fc := &fakeCaptioner{primaryErr: errors.New("model timeout")}
	r := NewRegistry(testConfig(), fc, nil)

	res, err := r.Extract(context.Background(), "", path)
	require.NoError(t, err)
	require.Len(t, res.Images, 1)
	assert.Equal(t, "small caption", res.Images[0].Caption)
	assert.Equal(t, "fallback", res.Images[0].CaptionSource)
	assert.Equal(t, []bool{false, true}, fc.calls, "primary then fallback")
}

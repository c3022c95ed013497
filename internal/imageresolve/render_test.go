package imageresolve

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chromePath(t *testing.T) string {
	t.Helper()
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("no Chrome binary on PATH")
	return ""
}

func TestChromeRendererSharesBrowser(t *testing.T) {
	r := NewChromeRenderer(chromePath(t), 10*time.Second)
	defer r.Close()

	parent, err := r.browser()
	require.NoError(t, err)
	browser := chromedp.FromContext(parent).Browser
	require.NotNil(t, browser)

	for i := 0; i < 2; i++ {
		tabCtx, cancel, err := r.tab(context.Background())
		require.NoError(t, err)
		assert.Same(t, browser, chromedp.FromContext(tabCtx).Browser)
		cancel()
	}

	again, err := r.browser()
	require.NoError(t, err)
	assert.Equal(t, parent, again)
}

func TestChromeRendererStartFailure(t *testing.T) {
	r := NewChromeRenderer("/nonexistent/chrome", 5*time.Second)
	defer r.Close()

	_, err := r.Render(context.Background(), "https://example.com", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Nil(t, r.browserCtx)
}

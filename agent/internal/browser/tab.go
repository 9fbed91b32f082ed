package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// navigateTimeout bounds the initial load of a new tab.
const navigateTimeout = 30 * time.Second

// Tab is a page opened for recording. ID is the DevTools target id, which
// doubles as the surface id of the pointer agent.
type Tab struct {
	Page *rod.Page
	ID   string
	URL  string
}

// OpenTab creates a tab and loads pageURL. Headless managers get a stealth
// page so sites render as they would for a person.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	var (
		page *rod.Page
		err  error
	)
	if mgr.Mode() == ModeHeadless {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if pageURL != "" {
		navCtx, cancel := context.WithTimeout(ctx, navigateTimeout)
		defer cancel()
		if err := page.Context(navCtx).Navigate(pageURL); err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
		}
		if err := page.Context(navCtx).WaitLoad(); err != nil {
			mgr.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
		}
	}

	mgr.cfg.Logger.Info("browser: tab opened", "target", page.TargetID, "url", pageURL)
	return &Tab{Page: page, ID: string(page.TargetID), URL: pageURL}, nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}

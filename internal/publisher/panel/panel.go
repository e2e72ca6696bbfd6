// Package panel publishes a DNS record by driving the hosting control
// panel's web UI with a headless Chrome.
//
// Every Publish launches its own browser and always shuts it down before
// returning, whatever the outcome.
package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/evanofslack/ipsync/internal/config"
	"github.com/evanofslack/ipsync/internal/publisher"
)

const (
	usernameField = `//input[@name='username']`
	passwordField = `//input[@name='password']`
	loginButton   = `.Button`
	recordsTable  = `table`
	valueField    = `input[type='text'][rows='3']`
	saveButton    = `//button[contains(., 'Guardar') or contains(., 'Save')]`
)

// ErrRecordNotFound is returned when the DNS page has no row for the record.
var ErrRecordNotFound = errors.New("dns record not found in panel")

type session struct {
	ctx     context.Context
	release func()
}

type launcher func(ctx context.Context) session

type runner func(ctx context.Context, actions ...chromedp.Action) error

type PanelPublisher struct {
	baseURL  string
	username string
	password string
	headless bool
	timeout  time.Duration

	launch launcher
	run    runner
}

func New(cfg config.Panel) (*PanelPublisher, error) {
	if cfg.URL == "" || cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("panel url, username and password required")
	}
	p := &PanelPublisher{
		baseURL:  strings.TrimRight(cfg.URL, "/") + "/",
		username: cfg.Username,
		password: cfg.Password,
		headless: cfg.IsHeadless(),
		timeout:  cfg.Timeout,
		run:      chromedp.Run,
	}
	p.launch = p.launchChrome
	return p, nil
}

// Publish logs into the panel, opens the edit dialog of the row whose name
// column equals name and saves ip as its value.
func (p *PanelPublisher) Publish(ctx context.Context, name, ip string) error {
	if _, err := publisher.RecordType(ip); err != nil {
		return err
	}

	s := p.launch(ctx)
	defer func() {
		s.release()
		slog.Debug("Browser session closed")
	}()

	runCtx := s.ctx
	if p.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, p.timeout)
		defer cancel()
	}

	slog.Info("Logging into DNS panel", "url", p.baseURL)
	if err := p.run(runCtx, p.loginActions()...); err != nil {
		return fmt.Errorf("panel login: %w", err)
	}

	slog.Info("Opening DNS records page", "url", p.dnsURL())
	if err := p.run(runCtx, p.openRecordActions(name)...); err != nil {
		return fmt.Errorf("panel open record %s: %w", name, err)
	}

	slog.Info("Saving new record value", "name", name, "ip", ip)
	if err := p.run(runCtx, p.saveActions(ip)...); err != nil {
		return fmt.Errorf("panel save record %s: %w", name, err)
	}
	return nil
}

func (p *PanelPublisher) launchChrome(ctx context.Context) session {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.DisableGPU)
	if !p.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			slog.Debug("chromedp error", "message", fmt.Sprintf(format, args...))
		}),
	)
	return session{
		ctx: browserCtx,
		release: func() {
			cancelBrowser()
			cancelAlloc()
		},
	}
}

func (p *PanelPublisher) dnsURL() string {
	return p.baseURL + "user/dns"
}

func (p *PanelPublisher) loginActions() []chromedp.Action {
	return []chromedp.Action{
		chromedp.Navigate(p.baseURL),
		chromedp.WaitVisible(usernameField, chromedp.BySearch),
		chromedp.WaitVisible(passwordField, chromedp.BySearch),
		chromedp.SendKeys(usernameField, p.username, chromedp.BySearch),
		chromedp.SendKeys(passwordField, p.password, chromedp.BySearch),
		chromedp.Click(loginButton, chromedp.ByQuery),
		chromedp.WaitNotPresent(passwordField, chromedp.BySearch),
	}
}

func (p *PanelPublisher) openRecordActions(name string) []chromedp.Action {
	editButton := editButtonXPath(name)
	var matches int
	return []chromedp.Action{
		chromedp.Navigate(p.dnsURL()),
		chromedp.WaitVisible(recordsTable, chromedp.ByQuery),
		chromedp.WaitVisible(recordsTable+" tr td", chromedp.ByQuery),
		chromedp.Evaluate(countXPathJS(editButton), &matches),
		chromedp.ActionFunc(func(ctx context.Context) error {
			if matches == 0 {
				return fmt.Errorf("%w: %s", ErrRecordNotFound, name)
			}
			return nil
		}),
		chromedp.Click(editButton, chromedp.BySearch),
	}
}

func (p *PanelPublisher) saveActions(ip string) []chromedp.Action {
	return []chromedp.Action{
		chromedp.WaitVisible(valueField, chromedp.ByQuery),
		chromedp.Clear(valueField, chromedp.ByQuery),
		chromedp.SendKeys(valueField, ip, chromedp.ByQuery),
		chromedp.Click(saveButton, chromedp.BySearch),
		chromedp.WaitNotPresent(valueField, chromedp.ByQuery),
	}
}

// editButtonXPath selects the button in the last cell of the table row
// whose second cell is exactly name.
func editButtonXPath(name string) string {
	return fmt.Sprintf(`//table//tr[td[2][normalize-space(.)=%s]]/td[last()]//button`, xpathLiteral(name))
}

// xpathLiteral quotes s as an XPath 1.0 string literal.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	quoted := make([]string, 0, 2*len(parts)-1)
	for i, part := range parts {
		if i > 0 {
			quoted = append(quoted, `"'"`)
		}
		quoted = append(quoted, "'"+part+"'")
	}
	return "concat(" + strings.Join(quoted, ",") + ")"
}

func countXPathJS(xpath string) string {
	return fmt.Sprintf(
		`document.evaluate(%q, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength`,
		xpath,
	)
}

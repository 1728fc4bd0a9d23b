package dasspiel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/platz/booking/internal/htmlq"
	"github.com/hazyhaar/platz/booking/internal/portal"
)

// login establishes an authenticated session on a fresh cookie jar and
// returns the client carrying it. The portal uses a Laravel-style CSRF token
// published in a meta tag on the signin page; the credentials go out as JSON
// with the token in the X-CSRF-TOKEN header. A successful login answers with
// a body containing "signed-in". The session lives only for the calling
// flow, so concurrent attempts by different users cannot share cookies.
func (a *Adapter) login(ctx context.Context, cred *portal.Credential) (*http.Client, error) {
	if cred == nil || cred.Username == "" || cred.Password == "" {
		return nil, fmt.Errorf("%w: dasspiel: missing credentials", portal.ErrAuth)
	}
	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return nil, err
	}

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Timeout: a.cfg.Timeout, Jar: jar}

	doc, err := a.getHTMLWith(ctx, client, a.cfg.BaseURL+"/signin", a.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("dasspiel: load signin page: %w", err)
	}
	token := csrfToken(doc)
	if token == "" {
		return nil, fmt.Errorf("dasspiel: csrf token not found on signin page")
	}

	body, err := json.Marshal(map[string]string{
		"email": cred.Username,
		"pw":    cred.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("dasspiel: encode login: %w", err)
	}

	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/signin", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("dasspiel: new login request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-CSRF-TOKEN", token)
	req.Header.Set("Referer", a.cfg.BaseURL+"/signin")

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if !strings.Contains(string(respBody), "signed-in") {
		return nil, fmt.Errorf("%w: dasspiel: login rejected", portal.ErrAuth)
	}
	a.cfg.Logger.Debug("dasspiel: login ok", "user", cred.Username)
	return client, nil
}

// csrfToken reads the csrf-token meta from any page of the portal.
func csrfToken(doc *html.Node) string {
	meta := htmlq.Find(doc, htmlq.ByTagAttr("meta", "name", "csrf-token"))
	if meta == nil {
		return ""
	}
	return htmlq.Attr(meta, "content")
}

package oracle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"moltens/pkg/domain"
	"moltens/pkg/platform/sentinel"
)

const (
	UserAgent = "MoltENS-Verifier/1.0 (https://moltbook.domains)"

	usernamePlaceholder = "{username}"
	maxBodyBytes        = 2 << 20
)

// DefaultProfileURLs are tried in order; the first 2xx response is definitive.
var DefaultProfileURLs = []string{
	"https://moltbook.com/bots/{username}",
	"https://moltbook.com/agents/{username}",
	"https://moltbook.com/@{username}",
	"https://moltbook.com/u/{username}",
}

// ErrProfileNotFound means the host answered but has no profile at this
// location (a 4xx other than 429).
var ErrProfileNotFound = errors.New("profile not found")

// ProfilePage locates a profile by substituting the username into a URL
// template and searches the returned page for the token.
type ProfilePage struct {
	template string
	client   *http.Client
}

// NewProfilePage builds a strategy for template. A nil client uses
// http.DefaultClient; per-attempt deadlines come from the caller's context.
func NewProfilePage(template string, client *http.Client) *ProfilePage {
	if client == nil {
		client = http.DefaultClient
	}
	return &ProfilePage{template: template, client: client}
}

func (p *ProfilePage) Name() string { return p.template }

func (p *ProfilePage) URL(label domain.Label) string {
	return strings.ReplaceAll(p.template, usernamePlaceholder, string(label))
}

// Probe fetches the profile page. A nil error always carries evidence.
func (p *ProfilePage) Probe(ctx context.Context, label domain.Label, token domain.ReferenceToken) (*Evidence, error) {
	url := p.URL(label)
	resp, err := p.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := classify(resp, url); err != nil {
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	return &Evidence{
		LocationURL:  url,
		TokenPresent: strings.Contains(string(body), string(token)),
	}, nil
}

// Exists issues a HEAD request. A 4xx answer is a definitive "no".
func (p *ProfilePage) Exists(ctx context.Context, label domain.Label) (bool, error) {
	url := p.URL(label)
	resp, err := p.do(ctx, http.MethodHead, url)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	err = classify(resp, url)
	if errors.Is(err, ErrProfileNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (p *ProfilePage) do(ctx context.Context, method, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, url, err)
	}
	return resp, nil
}

func classify(resp *http.Response, url string) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, sentinel.ErrUnavailable)
	default:
		return fmt.Errorf("%s returned %d: %w", url, resp.StatusCode, ErrProfileNotFound)
	}
}

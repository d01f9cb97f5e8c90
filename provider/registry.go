package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	retryablehttp "github.com/hashicorp/go-retryablehttp"
)

// Handle identifies a registered creator, allocated monotonically as
// spec section 4.A describes.
type Handle int64

// Creator builds a DataProvider for path, or returns nil if it does not
// recognize path (the "first non-null result wins" lookup rule).
type Creator func(path string) DataProvider

// Registry holds user-registered creators in an ordered list keyed by a
// monotonically allocated Handle, plus the built-in dispatch rule
// (http(s):// → HTTPProvider, midi: or a registered creator → deferred,
// otherwise → FileProvider).
type Registry struct {
	client *retryablehttp.Client

	mu      sync.Mutex
	next    Handle
	order   []Handle
	byHandl map[Handle]Creator
}

// NewRegistry creates an empty Registry. client is the shared HTTP
// client used for both HTTPProvider construction and SoundCloud resolve
// requests (spec section 5: "The HTTP client ... [is] shared across all
// decoders via reference-counted handles").
func NewRegistry(client *retryablehttp.Client) *Registry {
	return &Registry{client: client, byHandl: make(map[Handle]Creator)}
}

// Register adds a creator to the end of the lookup order and returns its
// handle.
func (r *Registry) Register(c Creator) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.next
	r.next++
	r.order = append(r.order, h)
	r.byHandl[h] = c

	return h
}

// Unregister removes a previously registered creator. Used by the
// transmuxer to deregister its synthetic-path creator once its inner
// decoder has been built (spec section 4.D: "a temporarily-registered
// data-provider creator").
func (r *Registry) Unregister(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byHandl, h)

	for i, oh := range r.order {
		if oh == h {
			r.order = append(r.order[:i], r.order[i+1:]...)

			break
		}
	}
}

// lookup iterates registered creators in registration order and returns
// the first non-nil result.
func (r *Registry) lookup(path string) DataProvider {
	r.mu.Lock()
	order := append([]Handle(nil), r.order...)
	creators := make(map[Handle]Creator, len(r.byHandl))

	for h, c := range r.byHandl {
		creators[h] = c
	}
	r.mu.Unlock()

	for _, h := range order {
		if c, ok := creators[h]; ok {
			if dp := c(path); dp != nil {
				return dp
			}
		}
	}

	return nil
}

// Create dispatches path to a DataProvider following spec section 4.A's
// rule: http(s):// selects HTTPProvider; midi: or a match in the
// registered-creator list defers to that creator; otherwise File.
// SoundCloud URLs are resolved to their underlying stream URL first.
func (r *Registry) Create(path string) (DataProvider, error) {
	if isSoundCloudURL(path) {
		resolved, err := r.resolveSoundCloud(path)
		if err != nil {
			return nil, fmt.Errorf("resolving soundcloud url %s: %w", path, err)
		}

		return r.Create(resolved)
	}

	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return NewHTTPProvider(path, r.client), nil
	}

	if strings.HasPrefix(path, "midi:") {
		if dp := r.lookup(path); dp != nil {
			return dp, nil
		}
	}

	if dp := r.lookup(path); dp != nil {
		return dp, nil
	}

	return NewFileProvider(path), nil
}

// isSoundCloudURL reports whether path is a soundcloud.com URL that has
// not already been resolved to a direct stream URL.
func isSoundCloudURL(path string) bool {
	u, err := url.Parse(path)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Host)
	if host != "soundcloud.com" && !strings.HasSuffix(host, ".soundcloud.com") {
		return false
	}

	if host == "api.soundcloud.com" {
		return false
	}

	return !strings.Contains(u.Path, "/stream")
}

// resolveSoundCloud GETs the SoundCloud resolve endpoint and recurses on
// the stream_url field, per spec section 4.A / scenario S5.
func (r *Registry) resolveSoundCloud(path string) (string, error) {
	endpoint := "https://api.soundcloud.com/resolve?url=" + url.QueryEscape(path)

	req, err := retryablehttp.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("building resolve request: %w", err)
	}

	client := r.client
	if client == nil {
		client = retryablehttp.NewClient()
		client.Logger = nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("resolve request: status %d", resp.StatusCode)
	}

	var body struct {
		StreamURL string `json:"stream_url"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decoding resolve response: %w", err)
	}

	if body.StreamURL == "" {
		return "", fmt.Errorf("resolve response for %s has no stream_url", path)
	}

	return body.StreamURL, nil
}

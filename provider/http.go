package provider

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	retryablehttp "github.com/hashicorp/go-retryablehttp"

	"github.com/mycophonic/pinna"
	"github.com/mycophonic/pinna/internal/logging"
)

// HTTPProvider issues a HEAD at Load to learn Content-Length, then
// translates every Read into a synchronous Range GET. Concurrent access
// is serialized by mu, matching spec section 4.A: "All mutations are
// guarded by a single provider mutex; concurrent reads thus serialize."
//
// Retries belong to the HTTP client, not to this provider (spec section
// 7: "There are no retries at the decoder layer; retry policy belongs to
// the HTTP client") — Client is a *retryablehttp.Client configured by the
// caller (see config.HTTPRetryPolicy) and is shared across providers by
// passing the same client pointer; no reference count is kept.
type HTTPProvider struct {
	url    string
	client *retryablehttp.Client

	mu     sync.Mutex
	offset int64
	size   int64
	eof    bool
}

// NewHTTPProvider creates an HTTPProvider for url using client. If client
// is nil, a default retryablehttp.Client with retries disabled at this
// layer (RetryMax: 0) is used.
func NewHTTPProvider(url string, client *retryablehttp.Client) *HTTPProvider {
	if client == nil {
		client = retryablehttp.NewClient()
		client.RetryMax = 0
		client.Logger = nil
	}

	return &HTTPProvider{url: url, client: client}
}

func (p *HTTPProvider) Load(onError func(error), onDone func(bool)) {
	go func() {
		req, err := retryablehttp.NewRequest(http.MethodHead, p.url, nil)
		if err != nil {
			onError(fmt.Errorf("building HEAD %s: %w", p.url, err))
			onDone(false)

			return
		}

		resp, err := p.client.Do(req)
		if err != nil {
			onError(fmt.Errorf("HEAD %s: %w", p.url, err))
			onDone(false)

			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			onError(pinna.NewError(pinna.HTTPStatusDomain(resp.StatusCode), pinna.CodeIO,
				fmt.Errorf("HEAD %s: status %d", p.url, resp.StatusCode)))
			onDone(false)

			return
		}

		p.mu.Lock()
		p.size = resp.ContentLength
		p.mu.Unlock()

		onDone(true)
	}()
}

func (p *HTTPProvider) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(buf) == 0 {
		return 0, nil
	}

	if p.size != UnknownSize && p.offset >= p.size {
		p.eof = true

		return 0, io.EOF
	}

	end := p.offset + int64(len(buf)) - 1
	if p.size != UnknownSize && end > p.size-1 {
		end = p.size - 1
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("building range GET %s: %w", p.url, err)
	}

	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", p.offset, end))

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("range GET %s: %w", p.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		logging.Recovered("http-provider", "unexpected-status", fmt.Errorf("status %d", resp.StatusCode))

		return 0, pinna.NewError(pinna.HTTPStatusDomain(resp.StatusCode), pinna.CodeIO,
			fmt.Errorf("range GET %s: status %d", p.url, resp.StatusCode))
	}

	n, err := io.ReadFull(resp.Body, buf[:end-p.offset+1])
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("reading range body: %w", err)
	}

	p.offset += int64(n)
	if n == 0 {
		p.eof = true
	}

	return n, nil
}

func (p *HTTPProvider) Seek(offset int64, whence Whence) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var target int64

	switch whence {
	case SeekSet:
		target = offset
	case SeekCurrent:
		target = p.offset + offset
	case SeekEnd:
		if p.size == UnknownSize {
			return p.offset, errors.New("provider: size unknown, cannot seek from end")
		}

		target = p.size + offset
	}

	if p.size != UnknownSize && target > p.size {
		p.offset = p.size
		p.eof = true

		return p.offset, io.EOF
	}

	if target < 0 {
		return p.offset, errors.New("provider: negative seek target")
	}

	p.offset = target
	p.eof = false

	return p.offset, nil
}

func (p *HTTPProvider) Tell() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.offset, nil
}

func (p *HTTPProvider) EOF() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.eof
}

func (p *HTTPProvider) Size() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.size
}

func (p *HTTPProvider) Path() string { return p.url }
func (p *HTTPProvider) Name() string { return "http" }

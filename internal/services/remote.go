// Remote music server implementation of [Fetcher], [Describer] and [CoverFetcher]
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/crate/internal/models"
	"github.com/desertthunder/crate/internal/shared"
)

const defaultRemoteBaseURL string = "http://127.0.0.1:4533"

// RemoteService talks to the music server over HTTP.
//
//	GET /rest/items/{id}   item metadata as JSON
//	GET /rest/stream/{id}  media bytes; format and maxBitRate select the quality, Range resumes
//	GET /rest/cover/{id}   cover image
//
// Metadata and cover requests are bounded by timeout as a whole. Media streams are not: only dialing and
// waiting for response headers are, so a long download is limited by its context alone.
type RemoteService struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

var (
	_ Fetcher      = (*RemoteService)(nil)
	_ Describer    = (*RemoteService)(nil)
	_ CoverFetcher = (*RemoteService)(nil)
)

// NewRemoteService creates a client for baseURL. A nil client means [http.DefaultClient].
func NewRemoteService(baseURL, apiKey string, client *http.Client) *RemoteService {
	if baseURL == "" {
		baseURL = defaultRemoteBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &RemoteService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: client,
	}
}

// NewRemoteServiceFromConfig builds a client with the configured timeout.
//
// The timeout bounds connecting and waiting for response headers on every request, and the whole exchange for
// metadata and covers. It never applies to reading a media body.
func NewRemoteServiceFromConfig(cfg shared.RemoteConfig) *RemoteService {
	timeout := cfg.Timeout()
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout

	s := NewRemoteService(cfg.BaseURL, cfg.APIKey, &http.Client{Transport: transport})
	s.timeout = timeout
	return s
}

// DescribeItem fetches item metadata.
func (s *RemoteService) DescribeItem(ctx context.Context, itemID string) (*models.Item, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	resp, err := s.get(ctx, "/rest/items/"+url.PathEscape(itemID), nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var item models.Item
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("%w: failed to decode item: %v", shared.ErrAPIRequest, err)
	}
	if item.ID == "" {
		item.ID = itemID
	}
	return &item, nil
}

// Fetch opens the media stream for itemID, asking for a byte range when offset is positive.
//
// A 416 reply whose Content-Range total equals offset means the part file is already complete: the stream
// is empty and positioned at offset. Any other 416 wraps [shared.ErrRangeNotSatisfiable].
func (s *RemoteService) Fetch(ctx context.Context, itemID string, quality models.Quality, offset int64) (*Stream, error) {
	if !quality.Valid() {
		return nil, fmt.Errorf("%w: %q", shared.ErrInvalidQuality, quality)
	}

	query := url.Values{}
	query.Set("format", quality.Codec())
	if quality.Bitrate() > 0 {
		query.Set("maxBitRate", strconv.Itoa(quality.Bitrate()))
	}

	header := http.Header{}
	if offset > 0 {
		header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	fullURL := s.baseURL + "/rest/stream/" + url.PathEscape(itemID) + "?" + query.Encode()
	resp, err := s.send(ctx, fullURL, header)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0 {
		resp.Body.Close()
		contentRange := resp.Header.Get("Content-Range")
		if _, total, err := parseContentRange(contentRange); err == nil && total == offset {
			return &Stream{Body: http.NoBody, Offset: offset, ContentLength: offset}, nil
		}
		return nil, fmt.Errorf("%w: offset %d, server has %q", shared.ErrRangeNotSatisfiable, offset, contentRange)
	}
	if err := checkStatus(resp, fullURL); err != nil {
		return nil, err
	}

	stream := &Stream{Body: resp.Body, ContentType: resp.Header.Get("Content-Type")}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		start, total, err := parseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			start, total = offset, 0
			if resp.ContentLength > 0 {
				total = offset + resp.ContentLength
			}
		}
		stream.Offset = start
		stream.ContentLength = total
	default:
		if resp.ContentLength > 0 {
			stream.ContentLength = resp.ContentLength
		}
	}

	return stream, nil
}

// FetchCover downloads the item's cover, preferring its CoverURL when set.
func (s *RemoteService) FetchCover(ctx context.Context, item models.Item) (*Cover, error) {
	ctx, cancel := s.withDeadline(ctx)

	var (
		resp *http.Response
		err  error
	)

	if item.CoverURL != "" {
		resp, err = s.do(ctx, item.CoverURL, nil)
	} else {
		resp, err = s.get(ctx, "/rest/cover/"+url.PathEscape(item.ID), nil, nil)
	}
	if err != nil {
		cancel()
		return nil, err
	}

	body := &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return &Cover{Body: body, Ext: imageExt(resp.Header.Get("Content-Type"))}, nil
}

// withDeadline applies the whole-request timeout, when one is configured.
func (s *RemoteService) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// cancelOnClose releases a request context once its body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func (s *RemoteService) get(ctx context.Context, path string, query url.Values, header http.Header) (*http.Response, error) {
	fullURL := s.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}
	return s.do(ctx, fullURL, header)
}

// do performs a GET and maps non-success statuses to sentinel errors. The caller closes the body.
func (s *RemoteService) do(ctx context.Context, fullURL string, header http.Header) (*http.Response, error) {
	resp, err := s.send(ctx, fullURL, header)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, fullURL); err != nil {
		return nil, err
	}
	return resp, nil
}

// send performs a GET with the API key attached and returns the response whatever its status.
func (s *RemoteService) send(ctx context.Context, fullURL string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, v := range header {
		req.Header[k] = v
	}
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrServiceUnavailable, err)
	}
	return resp, nil
}

// checkStatus maps a non-2xx response to a sentinel error, closing its body.
func checkStatus(resp *http.Response, fullURL string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrItemNotFound, fullURL)
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s", shared.ErrServiceUnavailable, resp.Status)
	default:
		return fmt.Errorf("%w: %s: %s", shared.ErrAPIRequest, resp.Status, strings.TrimSpace(string(body)))
	}
}

// parseContentRange reads "bytes start-end/total" or the unsatisfied form "bytes */total".
// total is 0 when given as "*".
func parseContentRange(header string) (start, total int64, err error) {
	spec, ok := strings.CutPrefix(header, "bytes ")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", header)
	}

	rng, size, ok := strings.Cut(spec, "/")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", header)
	}

	if rng == "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid range total: %w", err)
		}
		return 0, total, nil
	}

	first, _, ok := strings.Cut(rng, "-")
	if !ok {
		return 0, 0, fmt.Errorf("invalid content range %q", header)
	}

	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid range start: %w", err)
	}

	if size != "*" {
		if total, err = strconv.ParseInt(size, 10, 64); err != nil {
			return 0, 0, fmt.Errorf("invalid range total: %w", err)
		}
	}
	return start, total, nil
}

func imageExt(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "jpg"
	}
	switch mediaType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpg"
	}
}

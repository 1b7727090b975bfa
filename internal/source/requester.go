package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// UserAgent は外部ソースへのリクエストに付与するUser-Agent。
const UserAgent = "TechFeed-NewsAggregator/1.0 (+https://github.com/hitoshi/techfeed)"

// ErrMalformed はレスポンスが期待する形式でないことを表す。
var ErrMalformed = errors.New("malformed response")

// StatusError は200以外のHTTPステータスを表す。
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// ClassifyError はソース取得エラーをメトリクス用の分類ラベルに変換する。
func ClassifyError(err error) string {
	var statusErr *StatusError
	var netErr net.Error
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return "rate_limited"
		case statusErr.StatusCode >= 500:
			return "http_5xx"
		default:
			return "http_4xx"
		}
	case errors.Is(err, ErrMalformed):
		return "parse"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "network"
	}
}

// Requester はスロットリング、User-Agent付与、レスポンスサイズ制限を備えたHTTP GETを行う。
type Requester struct {
	client      *http.Client
	throttle    *HostThrottle
	maxBodySize int64
}

// NewRequester はRequesterを生成する。clientのTimeoutが1回の呼び出し全体の上限になる。
func NewRequester(client *http.Client, throttle *HostThrottle, maxBodySize int64) *Requester {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Requester{client: client, throttle: throttle, maxBodySize: maxBodySize}
}

// Get はURLを取得してボディを返す。200以外は*StatusErrorを返す。
func (r *Requester) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	if r.throttle != nil {
		if err := r.throttle.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	limit := r.maxBodySize
	if limit <= 0 {
		limit = 5 << 20
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to read body from %s: %w", req.URL.Host, err)
	}
	return body, nil
}

// GetJSON はURLを取得してJSONとしてvにデコードする。
func (r *Requester) GetJSON(ctx context.Context, rawURL string, header http.Header, v any) error {
	body, err := r.Get(ctx, rawURL, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

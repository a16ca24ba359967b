package core

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"
)

const remoteBodyLimit = 4 << 20

// fetchRemoteJSON GET 远程 JSON 配置；5xx 与网络错误重试，4xx 直接失败
func fetchRemoteJSON(ctx context.Context, client *http.Client, url string) (gjson.Result, error) {
	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("GET %s: HTTP %d", url, resp.StatusCode)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, remoteBodyLimit))
		return err
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 200 * time.Millisecond
	eb.MaxElapsedTime = 10 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx)); err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("GET %s: invalid json", url)
	}
	return gjson.ParseBytes(body), nil
}

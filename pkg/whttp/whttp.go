// Package whttp sends small JSON requests to other osicert servers with retries.
package whttp

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const UserAgent = "osicert-cli"

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Headers []WHTTPHeader
}

type WHTTPRes struct {
	StatusCode int
	Status     string
	Body       []byte
}

// NewClient returns a retrying client that stays silent unless the caller
// sets its Logger.
func NewClient(retries int, timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.Logger = log.New(io.Discard, "", 0)
	client.RetryMax = retries
	client.HTTPClient.Timeout = timeout
	return client
}

// SendHTTPRequest performs wReq and reads the whole body. Non-2xx statuses
// are returned as a response, not an error.
func SendHTTPRequest(wReq *WHTTPReq, client *retryablehttp.Client) (*WHTTPRes, error) {
	method := wReq.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := retryablehttp.NewRequest(method, wReq.URL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", wReq.URL, err)
	}
	return &WHTTPRes{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}, nil
}

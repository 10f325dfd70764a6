// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gdamore/cfork"
)

// LogInfo is a batch of log records, and the Etag to ask for the next.
type LogInfo struct {
	etag    string
	Records []cfork.LogRecord
}

// Last returns the id of the newest record the server had.
func (li *LogInfo) Last() int64 {
	return parseEtag(li.etag)
}

// Client talks to a Handler.
type Client struct {
	user   string // HTTP Basic-Auth
	pass   string
	base   string // URI to root of tree on server
	auth   bool
	client *http.Client

	// Cached data
	workers []cfork.WorkerInfo
	etag    string // etag for the list of workers
	lock    sync.Mutex
}

func (c *Client) SetAuth(user string, pass string) {
	c.user = user
	c.pass = pass
	c.auth = true
}

func (c *Client) url(id int) string {
	if id < 0 {
		return c.base + "/workers"
	}
	return c.base + "/workers/" + strconv.Itoa(id)
}

// poll issues an HTTP GET against the URL, optionally checking for a cache,
// including optionally issuing a long poll that tries to wait until the
// value changes.  The return values are the new Etag and any error.  If the
// value did not change, then the returned etag will be "", but the error will
// be nil.
func (c *Client) poll(ctx context.Context, url string, etag string, wait int, v interface{}) (string, error) {
	req, e := http.NewRequestWithContext(ctx, "GET", url, nil)
	if e != nil {
		return "", e
	}
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
		if wait > 0 {
			req.Header.Set(PollEtagHeader, etag)
			req.Header.Set(PollTimeHeader, strconv.Itoa(wait))
		}
	}

	res, e := c.client.Do(req)
	if e != nil {
		return "", e
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotModified {
		return "", nil
	}
	if res.StatusCode != http.StatusOK {
		return "", readError(res)
	}
	body, e := io.ReadAll(res.Body)
	if e != nil {
		return "", e
	}
	if e := json.Unmarshal(body, v); e != nil {
		return "", e
	}
	return res.Header.Get("Etag"), nil
}

// readError decodes the Error body of a failed request, falling back to
// the HTTP status.
func readError(res *http.Response) error {
	e := &Error{}
	if body, err := io.ReadAll(res.Body); err == nil {
		if json.Unmarshal(body, e) == nil && e.Message != "" {
			e.Code = res.StatusCode
			return e
		}
	}
	return &Error{Code: res.StatusCode, Message: res.Status}
}

func (c *Client) post(ctx context.Context, url string) error {
	req, e := http.NewRequestWithContext(ctx, "POST", url, strings.NewReader(""))
	if e != nil {
		return e
	}
	req.Header.Set("Content-Type", "text/plain") // we don't really care
	if c.auth {
		req.SetBasicAuth(c.user, c.pass)
	}
	res, e := c.client.Do(req)
	if e != nil {
		return e
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return readError(res)
	}
	return nil
}

func (c *Client) pollWorkers(ctx context.Context, secs int) ([]cfork.WorkerInfo, string, error) {
	c.lock.Lock()
	otag := c.etag
	old := c.workers
	c.lock.Unlock()

	var v []cfork.WorkerInfo
	etag, e := c.poll(ctx, c.url(-1), otag, secs, &v)
	if e != nil {
		return nil, "", e
	}
	if etag == "" || etag == otag {
		return old, otag, nil
	}
	c.lock.Lock()
	c.etag = etag
	c.workers = v
	c.lock.Unlock()
	return v, etag, nil
}

// Workers returns the live processes.
func (c *Client) Workers(ctx context.Context) ([]cfork.WorkerInfo, error) {
	w, _, e := c.pollWorkers(ctx, 0)
	return w, e
}

// WatchWorkers waits up to secs seconds for the list of processes to
// change from the last one this client saw, and returns the current list
// and its Etag.
func (c *Client) WatchWorkers(ctx context.Context, secs int) ([]cfork.WorkerInfo, string, error) {
	return c.pollWorkers(ctx, secs)
}

func (c *Client) Worker(ctx context.Context, id int) (*cfork.WorkerInfo, error) {
	v := &cfork.WorkerInfo{}
	if _, e := c.poll(ctx, c.url(id), "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) Stats(ctx context.Context) (*cfork.Stats, error) {
	v := &cfork.Stats{}
	if _, e := c.poll(ctx, c.base+"/stats", "", 0, v); e != nil {
		return nil, e
	}
	return v, nil
}

func (c *Client) postWorker(ctx context.Context, id int, action string) error {
	return c.post(ctx, c.url(id)+"/"+action)
}

func (c *Client) DisableRefork(ctx context.Context, id int) error {
	return c.postWorker(ctx, id, "disable-refork")
}

func (c *Client) EnableRefork(ctx context.Context, id int) error {
	return c.postWorker(ctx, id, "enable-refork")
}

func (c *Client) Disconnect(ctx context.Context, id int) error {
	return c.postWorker(ctx, id, "disconnect")
}

// Kill sends the named signal, "TERM" if empty.
func (c *Client) Kill(ctx context.Context, id int, signal string) error {
	action := "kill"
	if signal != "" {
		action += "?signal=" + url.QueryEscape(signal)
	}
	return c.postWorker(ctx, id, action)
}

func (c *Client) pollLog(ctx context.Context, secs int, last *LogInfo) (*LogInfo, error) {
	u := c.base + "/log"
	otag := ""
	if last == nil {
		secs = 0
	} else {
		otag = last.etag
		u += "?since=" + url.QueryEscape(otag)
	}

	v := &LogInfo{}
	etag, e := c.poll(ctx, u, otag, secs, &v.Records)
	if e != nil {
		return nil, e
	}
	if etag == "" {
		// Nothing new.
		return &LogInfo{etag: otag}, nil
	}
	v.etag = etag
	return v, nil
}

// GetLog returns every retained record.
func (c *Client) GetLog(ctx context.Context) (*LogInfo, error) {
	return c.pollLog(ctx, 0, nil)
}

// WatchLog returns the records written after last, waiting up to secs
// seconds for there to be any.
func (c *Client) WatchLog(ctx context.Context, secs int, last *LogInfo) (*LogInfo, error) {
	return c.pollLog(ctx, secs, last)
}

// NewClient returns a Client handle.  The transport maybe nil to use
// a default transport, but it may also be adjusted to support additional
// options such as TLS.  baseURI is the base URL to use.
func NewClient(t http.RoundTripper, baseURI string) *Client {
	if t == nil {
		t = &http.Transport{}
	}
	return &Client{
		base:   strings.TrimRight(baseURI, "/"),
		client: &http.Client{Transport: t},
	}
}

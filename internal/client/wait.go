package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"holo/internal/api"
)

// Wait polls the job until it is terminal and returns its final view. A
// non-positive interval selects DefaultWaitInterval. onUpdate, when set, is
// called with every view that differs from the previous one.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onUpdate func(api.JobView)) (api.JobView, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last api.JobView
	for {
		view, err := c.GetJob(ctx, id)
		if err != nil {
			return last, err
		}
		if onUpdate != nil && (view.Status != last.Status || view.Progress != last.Progress) {
			onUpdate(view)
		}
		last = view
		if view.IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Watch subscribes to the job's websocket and calls onUpdate for every pushed
// view. It returns the last view once the server closes the stream after the
// job became terminal.
func (c *Client) Watch(ctx context.Context, id string, onUpdate func(api.JobView)) (api.JobView, error) {
	wsURL, err := c.watchURL(id)
	if err != nil {
		return api.JobView{}, err
	}
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second, Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return api.JobView{}, &APIError{StatusCode: resp.StatusCode, Message: "watch rejected", Path: "/jobs/" + id + "/watch"}
		}
		return api.JobView{}, fmt.Errorf("holod watch: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	var last api.JobView
	for {
		var view api.JobView
		if err := conn.ReadJSON(&view); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && last.IsTerminal() {
				return last, nil
			}
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, fmt.Errorf("holod watch: %w", err)
		}
		last = view
		c.remember(view)
		if onUpdate != nil {
			onUpdate(view)
		}
	}
}

func (c *Client) watchURL(id string) (string, error) {
	u, err := url.Parse(c.baseURL + "/jobs/" + url.PathEscape(id) + "/watch")
	if err != nil {
		return "", fmt.Errorf("watch url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.New("watch url: unsupported scheme " + u.Scheme)
	}
	return u.String(), nil
}

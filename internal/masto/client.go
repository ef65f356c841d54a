// Package masto is the client for the target posting service. The wire
// protocol is a fixed external contract; this package only wraps the three
// operations the pipeline needs and classifies failures into transient
// conditions worth retrying versus permanent rejections.
package masto

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"resty.dev/v3"
)

const (
	tokenEndpoint  = "/oauth/token"
	mediaEndpoint  = "/api/v1/media"
	statusEndpoint = "/api/v1/statuses"
	verifyEndpoint = "/api/v1/accounts/verify_credentials"
)

var (
	// ErrTransient marks a condition the caller may retry: 5xx, rate
	// limiting, network failures, and media still being processed.
	ErrTransient = errors.New("masto: transient target error")
	// ErrRejected marks a permanent rejection; retrying cannot help.
	ErrRejected = errors.New("masto: request rejected")
)

type Client struct {
	client *resty.Client
}

// NewClient builds a client for baseURL (e.g. https://mastodon.example).
// If accessToken is empty, Login must be called before posting.
func NewClient(baseURL, accessToken string) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(60 * time.Second)
	if accessToken != "" {
		c.SetAuthToken(accessToken)
	}
	return &Client{client: c}
}

func (c *Client) Close() error { return c.client.Close() }

func (c *Client) r(ctx context.Context) *resty.Request {
	return c.client.R().WithContext(ctx)
}

// Login obtains an access token via the password grant and installs it on
// the client for all subsequent calls.
func (c *Client) Login(ctx context.Context, clientID, clientSecret, username, password string) error {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	res, err := c.r(ctx).
		SetFormData(map[string]string{
			"grant_type":    "password",
			"client_id":     clientID,
			"client_secret": clientSecret,
			"username":      username,
			"password":      password,
			"scope":         "read write",
		}).
		SetResult(&out).
		Post(tokenEndpoint)
	if err != nil {
		return fmt.Errorf("%w: login: %v", ErrTransient, err)
	}
	if res.IsError() {
		return apiError(res)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("%w: login returned no token", ErrRejected)
	}
	c.client.SetAuthToken(out.AccessToken)
	return nil
}

// VerifyCredentials returns the acct identifier of the authenticated user.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	var out struct {
		Acct string `json:"acct"`
	}
	res, err := c.r(ctx).SetResult(&out).Get(verifyEndpoint)
	if err != nil {
		return "", fmt.Errorf("%w: verify: %v", ErrTransient, err)
	}
	if res.IsError() {
		return "", apiError(res)
	}
	return out.Acct, nil
}

// UploadMedia pushes one attachment and returns its media id.
func (c *Client) UploadMedia(ctx context.Context, data []byte, mime, filename string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	res, err := c.r(ctx).
		SetMultipartFields(&resty.MultipartField{
			Name:        "file",
			FileName:    filename,
			ContentType: mime,
			Reader:      bytes.NewReader(data),
		}).
		SetResult(&out).
		Post(mediaEndpoint)
	if err != nil {
		return "", fmt.Errorf("%w: upload: %v", ErrTransient, err)
	}
	if res.IsError() {
		return "", apiError(res)
	}
	return out.ID, nil
}

// SubmitStatus posts the composed message and returns the delivered id.
func (c *Client) SubmitStatus(ctx context.Context, text string, mediaIDs []string) (string, error) {
	form := url.Values{
		"status":     {text},
		"visibility": {"public"},
	}
	for _, id := range mediaIDs {
		form.Add("media_ids[]", id)
	}
	var out struct {
		ID string `json:"id"`
	}
	res, err := c.r(ctx).
		SetFormDataFromValues(form).
		SetResult(&out).
		Post(statusEndpoint)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", ErrTransient, err)
	}
	if res.IsError() {
		return "", apiError(res)
	}
	return out.ID, nil
}

func apiError(res *resty.Response) error {
	status := res.StatusCode()
	kind := ErrRejected
	if status >= 500 || status == http.StatusTooManyRequests || mediaProcessing(res) {
		kind = ErrTransient
	}
	return fmt.Errorf("%w: status %d: %s", kind, status, snippet(res.String()))
}

// mediaProcessing detects the "attachment has not finished processing"
// condition the service reports when a status references fresh media.
func mediaProcessing(res *resty.Response) bool {
	return res.StatusCode() == http.StatusUnprocessableEntity &&
		strings.Contains(strings.ToLower(res.String()), "processing")
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

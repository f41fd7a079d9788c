package c8y

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/SoftwareAG/cumulocity-subtenant-management/internal/platform/logger"
	"github.com/sirupsen/logrus"
)

// Client is a low level REST client bound to one tenant.  All of the typed
// API wrappers (entity APIs, bootstrap API, binaries, external ids) are built
// on top of its JSON helpers.  The raw Fetch method is the escape hatch for
// endpoints without a typed wrapper.
type Client struct {
	BaseURL    string
	Tenant     string
	Username   string
	Password   string
	HTTPClient *http.Client
}

func NewClient(baseURL string, tenant string, username string, password string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		Tenant:     tenant,
		Username:   username,
		Password:   password,
		HTTPClient: httpClient,
	}
}

// WithCredentials returns a client against the same platform host that
// authenticates as a different user.  Used for the bootstrap handshake.
func (c *Client) WithCredentials(tenant string, username string, password string) *Client {
	return &Client{
		BaseURL:    c.BaseURL,
		Tenant:     tenant,
		Username:   username,
		Password:   password,
		HTTPClient: c.HTTPClient,
	}
}

type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform returned %d: %s", e.StatusCode, e.Message)
}

func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

func IsConflict(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.StatusCode == http.StatusConflict
}

func (c *Client) newRequest(ctx context.Context, method string, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.BaseURL + path
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}

	req.SetBasicAuth(c.Tenant+"/"+c.Username, c.Password)
	req.Header.Set("Accept", "application/json")

	return req, nil
}

// DoJSON issues a request with an optional JSON body and decodes the JSON
// response into the supplied target.  A nil target discards the response body.
func (c *Client) DoJSON(ctx context.Context, method string, path string, query url.Values, reqBody interface{}, into interface{}) error {

	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return buildAPIError(resp)
	}

	if into == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(into)
}

// Fetch is the raw escape hatch for endpoints without a typed wrapper.
func (c *Client) Fetch(ctx context.Context, method string, path string, query url.Values, body []byte) ([]byte, int, error) {

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := c.newRequest(ctx, method, path, query, reader)
	if err != nil {
		return nil, 0, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}

	return responseBody, resp.StatusCode, nil
}

func buildAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var platformError struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	message := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &platformError); err == nil && platformError.Message != "" {
		message = platformError.Message
	}

	logger.Log.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"url":    resp.Request.URL.Path}).Debug("Platform request failed")

	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

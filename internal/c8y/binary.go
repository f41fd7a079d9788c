package c8y

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// Binary is the inventory representation of an uploaded binary payload.
type Binary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Self string `json:"self,omitempty"`
}

// DownloadBinary fetches the raw content of a stored binary.
func (c *Client) DownloadBinary(ctx context.Context, id string) ([]byte, error) {

	req, err := c.newRequest(ctx, http.MethodGet, "/inventory/binaries/"+id, nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "*/*")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, buildAPIError(resp)
	}

	return io.ReadAll(resp.Body)
}

// UploadBinary stores a binary payload and returns its new representation.
// Binaries are never shared by reference across tenants; every destination
// tenant gets its own copy.
func (c *Client) UploadBinary(ctx context.Context, name string, data []byte) (Binary, error) {

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	meta, err := writer.CreateFormField("object")
	if err != nil {
		return Binary{}, err
	}
	objectPart := map[string]string{"name": name, "type": "application/octet-stream"}
	if err := json.NewEncoder(meta).Encode(objectPart); err != nil {
		return Binary{}, err
	}

	file, err := writer.CreateFormFile("file", name)
	if err != nil {
		return Binary{}, err
	}
	if _, err := file.Write(data); err != nil {
		return Binary{}, err
	}

	if err := writer.Close(); err != nil {
		return Binary{}, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/inventory/binaries", nil, &buf)
	if err != nil {
		return Binary{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return Binary{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Binary{}, buildAPIError(resp)
	}

	var binary Binary
	if err := json.NewDecoder(resp.Body).Decode(&binary); err != nil {
		return Binary{}, err
	}

	if binary.ID == "" {
		return Binary{}, fmt.Errorf("binary upload response is missing an id")
	}

	return binary, nil
}

func (c *Client) DeleteBinary(ctx context.Context, id string) error {
	return c.DoJSON(ctx, http.MethodDelete, "/inventory/binaries/"+id, nil, nil, nil)
}

// BinaryURL builds the download reference for a stored binary in this
// client's tenant.
func (c *Client) BinaryURL(id string) string {
	return c.BaseURL + "/inventory/binaries/" + id
}

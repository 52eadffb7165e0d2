// Package cloudinary archives enrollment samples to Cloudinary.
package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// Client talks to the signed upload endpoint.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	// Folder prefixes every archived identity folder.
	Folder  string
	BaseURL string
	HTTP    *http.Client

	now func() time.Time
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    strings.Trim(folder, "/"),
		BaseURL:   defaultBaseURL,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Asset is the part of an upload response we keep.
type Asset struct {
	PublicID  string `json:"public_id"`
	Version   int64  `json:"version"`
	SecureURL string `json:"secure_url"`
	Bytes     int    `json:"bytes"`
}

// APIError is a non-2xx answer from Cloudinary.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudinary: upload rejected (%d): %s", e.StatusCode, e.Message)
}

// Archive stores one normalized enrollment face as <folder>/<identityID>/sample_NNN.
// The public id is deterministic, so archiving the same sample index again
// replaces the earlier upload.
func (c *Client) Archive(ctx context.Context, identityID int64, index int, face *image.Gray) error {
	var jpg bytes.Buffer
	if err := jpeg.Encode(&jpg, face, &jpeg.Options{Quality: 90}); err != nil {
		return fmt.Errorf("cloudinary: encode sample: %w", err)
	}
	publicID := fmt.Sprintf("sample_%03d", index)
	_, err := c.upload(ctx, map[string]string{
		"folder":    c.identityFolder(identityID),
		"public_id": publicID,
		"overwrite": "true",
	}, publicID+".jpg", &jpg)
	return err
}

func (c *Client) identityFolder(id int64) string {
	if c.Folder == "" {
		return strconv.FormatInt(id, 10)
	}
	return c.Folder + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) upload(ctx context.Context, params map[string]string, filename string, file io.Reader) (*Asset, error) {
	params["timestamp"] = strconv.FormatInt(c.now().Unix(), 10)
	params["signature"] = c.sign(params)
	params["api_key"] = c.APIKey

	body, contentType, err := multipartBody(params, filename, file)
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/%s/image/upload", strings.TrimRight(c.BaseURL, "/"), c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	var asset Asset
	if err := json.Unmarshal(raw, &asset); err != nil {
		return nil, fmt.Errorf("cloudinary: decode response: %w", err)
	}
	return &asset, nil
}

func multipartBody(fields map[string]string, filename string, file io.Reader) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// errorMessage pulls error.message out of a Cloudinary error body, falling
// back to the raw text.
func errorMessage(raw []byte) string {
	var e struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(raw, &e) == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

// sign is the hex SHA-1 of the sorted, non-empty params joined as k=v&k=v,
// followed by the secret. api_key, file and resource_type are never signed.
func (c *Client) sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		switch k {
		case "api_key", "file", "resource_type", "signature":
			continue
		}
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k + "=" + params[k])
	}
	sum := sha1.Sum([]byte(b.String() + c.APISecret))
	return hex.EncodeToString(sum[:])
}

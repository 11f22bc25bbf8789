package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 30 * time.Second

// Client calls a remote backend over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ backend.Backend = (*Client)(nil)

// NewClient creates a Client for the server at baseURL authenticating with
// the bearer token. If httpClient is nil a client with DefaultTimeout is used.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return backend.Wrap(backend.CodeInvalid, "failed to encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return backend.Wrap(backend.CodeInvalid, "failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.Wrap(backend.CodeUnavailable, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	var eb errorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &eb); err != nil || eb.Code == "" {
		eb.Code = codeFor(resp.StatusCode)
		eb.Message = strings.TrimSpace(string(data))
		if eb.Message == "" {
			eb.Message = resp.Status
		}
	}
	return backend.New(eb.Code, eb.Message)
}

func clientPath(clientID string) string {
	return "/api/clients/" + url.PathEscape(clientID)
}

func (c *Client) CreateOrUpdateClient(ctx context.Context, id, name string, address schema.Address, phone, email string) error {
	return c.do(ctx, http.MethodPut, clientPath(id), clientRequest{
		Name:    name,
		Address: address,
		Phone:   phone,
		Email:   email,
	})
}

func (c *Client) AddIntervention(ctx context.Context, clientID, comments string, media []schema.Blob, day, month, year uint64) error {
	return c.do(ctx, http.MethodPost, clientPath(clientID)+"/interventions", interventionRequest{
		Comments: comments, Media: media, Day: day, Month: month, Year: year,
	})
}

func (c *Client) UpdateIntervention(ctx context.Context, interventionID, clientID, comments string, media []schema.Blob, day, month, year uint64) error {
	return c.do(ctx, http.MethodPut, clientPath(clientID)+"/interventions/"+url.PathEscape(interventionID), interventionRequest{
		Comments: comments, Media: media, Day: day, Month: month, Year: year,
	})
}

func (c *Client) DeleteIntervention(ctx context.Context, interventionID, clientID string) error {
	return c.do(ctx, http.MethodDelete, clientPath(clientID)+"/interventions/"+url.PathEscape(interventionID), nil)
}

func (c *Client) MarkAsBlacklisted(ctx context.Context, clientID, comments string, media []schema.Blob) error {
	return c.do(ctx, http.MethodPut, clientPath(clientID)+"/blacklist", blacklistRequest{Comments: comments, Media: media})
}

func (c *Client) UnmarkAsBlacklisted(ctx context.Context, clientID string) error {
	return c.do(ctx, http.MethodDelete, clientPath(clientID)+"/blacklist", nil)
}

func (c *Client) UploadTechnicalFile(ctx context.Context, path string, blob schema.Blob) error {
	return c.do(ctx, http.MethodPut, "/api/files", uploadRequest{Path: path, Blob: blob})
}

func (c *Client) MoveTechnicalFile(ctx context.Context, oldPath, newPath string) error {
	return c.do(ctx, http.MethodPost, "/api/files/move", moveRequest{OldPath: oldPath, NewPath: newPath})
}

func (c *Client) RenameFolder(ctx context.Context, oldPath, newName string) error {
	return c.do(ctx, http.MethodPost, "/api/folders/rename", renameRequest{OldPath: oldPath, NewName: newName})
}

func (c *Client) CreateFolder(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodPost, "/api/folders", folderRequest{Path: path})
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/glekoz/chipdash/config"
	"github.com/glekoz/chipdash/internal/apierr"
	"github.com/glekoz/chipdash/internal/models"
	"github.com/glekoz/chipdash/pkg/logger"
	"github.com/oapi-codegen/runtime"
)

const maxErrorBody = 64 << 10

// Client talks to the log API. Every failure it returns is an *apierr.Error.
type Client struct {
	http      *http.Client
	endpoints config.Endpoints
	logger    *slog.Logger
}

func New(httpClient *http.Client, endpoints config.Endpoints, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient, endpoints: endpoints, logger: logger}
}

// FetchLogs returns every record the API serves. An element that is not a
// valid record is logged and skipped; only a payload that is not an array
// fails the whole call.
func (c *Client) FetchLogs(ctx context.Context) ([]models.LogRecord, error) {
	const op = "fetch logs"
	var raw []json.RawMessage
	if err := c.getArray(ctx, op, c.endpoints.Logs, &raw); err != nil {
		return nil, err
	}

	records := make([]models.LogRecord, 0, len(raw))
	for i, elem := range raw {
		var rec models.LogRecord
		if err := json.Unmarshal(elem, &rec); err != nil {
			c.logger.WarnContext(logger.WithDetails(ctx, "op", op), "skipping malformed record",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *Client) FetchNames(ctx context.Context) ([]models.NameEntry, error) {
	var names []models.NameEntry
	if err := c.getArray(ctx, "fetch names", c.endpoints.Names, &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) SetName(ctx context.Context, chipID, name string) error {
	const op = "set name"
	body, err := json.Marshal(models.NameEntry{ChipID: chipID, Name: name})
	if err != nil {
		return apierr.Shape(op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoints.SetName, bytes.NewReader(body))
	if err != nil {
		return apierr.Network(op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) DeleteRecord(ctx context.Context, key models.RecordKey) error {
	const op = "delete record"
	u, err := withRecordQuery(c.endpoints.Delete, key)
	if err != nil {
		return apierr.Network(op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return apierr.Network(op, err)
	}

	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) ExportRecord(ctx context.Context, key models.RecordKey) (models.Artifact, error) {
	const op = "export record"
	u, err := withRecordQuery(c.endpoints.Export, key)
	if err != nil {
		return models.Artifact{}, apierr.Network(op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Artifact{}, apierr.Network(op, err)
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.do(req, op)
	if err != nil {
		return models.Artifact{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Artifact{}, apierr.Network(op, err)
	}

	filename := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	if filename == "" {
		filename = models.DefaultExportFilename(key)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return models.Artifact{Filename: filename, ContentType: contentType, Data: data}, nil
}

func (c *Client) getArray(ctx context.Context, op, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apierr.Network(op, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.do(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apierr.Network(op, err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return apierr.Shape(op, fmt.Errorf("expected a JSON array, got %s", preview(body)))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apierr.Shape(op, err)
	}
	return nil
}

// do sends the request and turns transport errors and non-2xx answers into
// apierr values. On success the caller owns resp.Body.
func (c *Client) do(req *http.Request, op string) (*http.Response, error) {
	if id := logger.FromContext(req.Context()).RequestID; id != "" {
		req.Header.Set(logger.RequestIDHeader, id)
	}
	logCtx := logger.WithDetails(req.Context(), "op", op)
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(logCtx, "request failed", slog.String("error", err.Error()))
		return nil, apierr.Network(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg := messageFromBody(body)
		c.logger.WarnContext(logCtx, "request rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("message", msg),
		)
		return nil, apierr.Rejected(op, resp.StatusCode, msg)
	}
	return resp, nil
}

func withRecordQuery(endpoint string, key models.RecordKey) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	for name, value := range map[string]any{"chip_id": key.ChipID, "timestamp": key.Timestamp} {
		frag, err := runtime.StyleParamWithLocation("form", true, name, runtime.ParamLocationQuery, value)
		if err != nil {
			return "", err
		}
		parsed, err := url.ParseQuery(frag)
		if err != nil {
			return "", errors.New("could not parse query parameter " + name)
		}
		for k, vs := range parsed {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// messageFromBody prefers a JSON {message} (or {error}) and falls back to
// the raw text, the export endpoint may answer with either.
func messageFromBody(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(body))
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := path.Base(strings.ReplaceAll(params["filename"], `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func preview(body []byte) string {
	if len(body) == 0 {
		return "empty body"
	}
	if len(body) > 64 {
		return fmt.Sprintf("%q...", body[:64])
	}
	return fmt.Sprintf("%q", body)
}

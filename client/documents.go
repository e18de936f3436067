package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	stackflow "github.com/goliatone/go-stackflow"
)

// Document is an uploaded knowledge base document.
type Document struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	FileSize    int64  `json:"file_size,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ChunksCount int    `json:"chunks_count,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

// CheckUpload applies the local upload policy: PDF files up to max bytes.
func CheckUpload(filename string, size, max int64) error {
	if !strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return stackflow.NewError(stackflow.ErrUnsupportedFile, "", nil, map[string]any{"filename": filename})
	}
	if max > 0 && size > max {
		return stackflow.NewError(stackflow.ErrUnsupportedFile,
			fmt.Sprintf("File exceeds the %d MB limit", max>>20), nil,
			map[string]any{"filename": filename, "size": size, "max": max})
	}
	return nil
}

// UploadDocument sends a single PDF as multipart form field "file". The
// policy is checked before anything is sent.
func (c *Client) UploadDocument(ctx context.Context, filename string, content io.Reader) (Document, error) {
	if err := CheckUpload(filename, 0, 0); err != nil {
		return Document{}, err
	}
	data, err := io.ReadAll(io.LimitReader(content, c.maxUpload+1))
	if err != nil {
		return Document{}, stackflow.NewError(stackflow.ErrInvalidRequest, "read document", err, nil)
	}
	if err := CheckUpload(filename, int64(len(data)), c.maxUpload); err != nil {
		return Document{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(filename))
	if err != nil {
		return Document{}, stackflow.NewError(stackflow.ErrInvalidRequest, "build upload", err, nil)
	}
	if _, err := part.Write(data); err != nil {
		return Document{}, stackflow.NewError(stackflow.ErrInvalidRequest, "build upload", err, nil)
	}
	if err := mw.Close(); err != nil {
		return Document{}, stackflow.NewError(stackflow.ErrInvalidRequest, "build upload", err, nil)
	}

	var doc Document
	err = c.send(ctx, call{
		method:      http.MethodPost,
		path:        "/api/documents/upload",
		body:        buf.Bytes(),
		contentType: mw.FormDataContentType(),
		out:         &doc,
	})
	if err != nil {
		return Document{}, err
	}
	c.logger.Info("uploaded document %s as %s", filename, doc.ID)
	return doc, nil
}

func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var out []Document
	cl, _ := jsonCall(http.MethodGet, "/api/documents", nil, &out)
	if err := c.send(ctx, cl); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetDocument(ctx context.Context, id string) (Document, error) {
	var out Document
	cl, _ := jsonCall(http.MethodGet, "/api/documents/"+url.PathEscape(id), nil, &out)
	if err := c.send(ctx, cl); err != nil {
		return Document{}, err
	}
	return out, nil
}

func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	if id == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "document id is required", nil, nil)
	}
	cl, _ := jsonCall(http.MethodDelete, "/api/documents/"+url.PathEscape(id), nil, nil)
	return c.send(ctx, cl)
}

// Package docstore provides the REST client for the document store.
//
// The store exposes a small document collection API:
//
//	GET    /documents        list all documents
//	GET    /documents/{id}   fetch one document
//	POST   /documents        create (no id) or update (id present)
//	DELETE /documents/{id}   remove a document (idempotent)
//
// Content is an opaque serialized string; its structure is the editing
// surface's concern, not the store's.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrNotFound is returned when the store has no document with the given id.
var ErrNotFound = errors.New("document not found")

// Document is one stored document.
//
// ID is opaque to this package; the reference server issues UUIDs but any
// non-empty string works. CreatedAt is set by the store and used only for
// display ordering.
type Document struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Client talks to the document store over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a store client for the given base URL.
//
// The base URL should not include a trailing slash, e.g.
// "http://localhost:8080".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// List returns all documents in the store.
func (c *Client) List(ctx context.Context) ([]Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/documents", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list documents", resp)
	}

	var docs []Document
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return nil, fmt.Errorf("failed to decode document list: %w", err)
	}
	return docs, nil
}

// Get fetches a single document by id.
//
// Returns ErrNotFound if the store does not recognize the id.
func (c *Client) Get(ctx context.Context, id string) (Document, error) {
	if id == "" {
		return Document{}, fmt.Errorf("id cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.documentURL(id), nil)
	if err != nil {
		return Document{}, fmt.Errorf("failed to build get request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Document{}, statusError("fetch document", resp)
	}

	var doc Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return doc, nil
}

// Save upserts a document.
//
// A document without an ID is created and the returned copy carries the
// id the store assigned. A document with an ID updates the existing row;
// the store fails if the id is unrecognized. The caller never branches on
// create-vs-update; the store owns that distinction.
func (c *Client) Save(ctx context.Context, doc Document) (Document, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return Document{}, fmt.Errorf("failed to encode document: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("failed to build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("failed to save document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Document{}, fmt.Errorf("document %s: %w", doc.ID, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Document{}, statusError("save document", resp)
	}

	var saved Document
	if err := json.NewDecoder(resp.Body).Decode(&saved); err != nil {
		return Document{}, fmt.Errorf("failed to decode saved document: %w", err)
	}
	return saved, nil
}

// Delete removes a document by id.
//
// Deleting an unknown id is not an error; the store treats it as
// already-deleted.
func (c *Client) Delete(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.documentURL(id), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return statusError("delete document", resp)
	}
	return nil
}

func (c *Client) documentURL(id string) string {
	return c.baseURL + "/documents/" + url.PathEscape(id)
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(body) > 0 {
		return fmt.Errorf("failed to %s: store returned %s: %s", op, resp.Status, body)
	}
	return fmt.Errorf("failed to %s: store returned %s", op, resp.Status)
}

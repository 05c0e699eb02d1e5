package backend

import (
	"context"
	"encoding/json"
	"net/http"
)

// Query narrows a List call. Filter entries are matched by equality on the
// record's JSON fields; a nil/empty filter returns the whole collection.
type Query struct {
	Filter map[string]any `json:"filter,omitempty"`
	Sort   string         `json:"sort,omitempty"`
	Order  string         `json:"order,omitempty"` // "asc" or "desc"
	Limit  int            `json:"limit,omitempty"`
}

// Table is the remote persistence contract the stores consume. Each
// collection ("conversations", "files", ...) is an opaque record table.
//
// Add returns only an acknowledgement; the remote-assigned id and owner
// reference are learned by re-listing on the record's client-generated key.
type Table interface {
	List(ctx context.Context, collection string, q Query) ([]json.RawMessage, error)
	Add(ctx context.Context, collection string, record any) error
	Update(ctx context.Context, collection, ownerRef, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, ownerRef, id string) error
}

const ownerRefHeader = "X-Owner-Ref"

type listResponse struct {
	Items []json.RawMessage `json:"items"`
}

// List fetches records from a collection.
func (c *Client) List(ctx context.Context, collection string, q Query) ([]json.RawMessage, error) {
	var resp listResponse
	path := "/v1/tables/" + collection + "/query"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, q, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Add inserts a record. The backend acknowledges without returning the
// assigned id.
func (c *Client) Add(ctx context.Context, collection string, record any) error {
	path := "/v1/tables/" + collection + "/records"
	return c.doJSON(ctx, http.MethodPost, path, nil, record, nil)
}

// Update applies a partial patch to a record. OwnerRef authorizes the write.
func (c *Client) Update(ctx context.Context, collection, ownerRef, id string, patch map[string]any) error {
	path := "/v1/tables/" + collection + "/records/" + id
	headers := map[string]string{ownerRefHeader: ownerRef}
	return c.doJSON(ctx, http.MethodPatch, path, headers, patch, nil)
}

// Delete physically removes a record. OwnerRef authorizes the delete.
func (c *Client) Delete(ctx context.Context, collection, ownerRef, id string) error {
	path := "/v1/tables/" + collection + "/records/" + id
	headers := map[string]string{ownerRefHeader: ownerRef}
	return c.doJSON(ctx, http.MethodDelete, path, headers, nil, nil)
}

package c8y

import (
	"context"
	"net/http"
	"net/url"
)

// ExternalID is a secondary lookup index entry pointing at a managed object.
type ExternalID struct {
	Type       string `json:"type"`
	ExternalID string `json:"externalId"`

	ManagedObject struct {
		ID string `json:"id"`
	} `json:"managedObject"`
}

// FindByExternalID resolves an external id to its managed object.  Returns
// nil without error when the index has no entry.
func (c *Client) FindByExternalID(ctx context.Context, idType string, externalID string) (*ExternalID, error) {

	path := "/identity/externalIds/" + url.PathEscape(idType) + "/" + url.PathEscape(externalID)

	var entry ExternalID
	err := c.DoJSON(ctx, http.MethodGet, path, nil, nil, &entry)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	return &entry, nil
}

// RegisterExternalID registers a new index entry pointing at the managed
// object.
func (c *Client) RegisterExternalID(ctx context.Context, managedObjectID string, idType string, externalID string) error {

	body := map[string]string{
		"type":       idType,
		"externalId": externalID,
	}

	return c.DoJSON(ctx, http.MethodPost, "/identity/globalIds/"+managedObjectID+"/externalIds", nil, body, nil)
}

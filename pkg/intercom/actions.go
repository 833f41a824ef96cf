package intercom

import (
	"context"
	"errors"
	"fmt"

	"github.com/rkoehl/intercom-bulk/pkg/client"
	"github.com/rkoehl/intercom-bulk/pkg/search"
)

// ErrMissingAdminID is returned when an action requiring an acting admin
// is built without one.
var ErrMissingAdminID = errors.New("admin_id is required")

// CloseAction closes one conversation by appending a close part as the
// configured admin.
type CloseAction struct {
	client  *client.Client
	adminID string
}

// NewCloseAction creates a close action performed as the given admin.
func NewCloseAction(c *client.Client, adminID string) (*CloseAction, error) {
	if adminID == "" {
		return nil, ErrMissingAdminID
	}
	return &CloseAction{client: c, adminID: adminID}, nil
}

// Perform implements bulk.Action.
func (a *CloseAction) Perform(ctx context.Context, itemID string, _ search.Item) error {
	payload := map[string]any{
		"message_type": "close",
		"type":         "admin",
		"admin_id":     a.adminID,
	}
	_, err := a.client.PostJSON(ctx, fmt.Sprintf("conversations/%s/parts", itemID), payload)
	return err
}

// TagAction attaches a fixed set of tags to each conversation.
type TagAction struct {
	client *client.Client
	tagIDs []string
}

// NewTagAction creates a tag-assignment action.
func NewTagAction(c *client.Client, tagIDs []string) (*TagAction, error) {
	if len(tagIDs) == 0 {
		return nil, errors.New("at least one tag id is required")
	}
	return &TagAction{client: c, tagIDs: tagIDs}, nil
}

// Perform implements bulk.Action.
func (a *TagAction) Perform(ctx context.Context, itemID string, _ search.Item) error {
	tags := make([]map[string]string, 0, len(a.tagIDs))
	for _, id := range a.tagIDs {
		tags = append(tags, map[string]string{"id": id})
	}
	payload := map[string]any{
		"id":   itemID,
		"tags": tags,
	}
	_, err := a.client.PostJSON(ctx, fmt.Sprintf("conversations/%s/tags", itemID), payload)
	return err
}

// UpdateAction updates attributes on each conversation, e.g. its state
// or custom attributes.
type UpdateAction struct {
	client *client.Client

	// State, when set, moves the conversation to that state.
	State string

	// CustomAttributes, when set, are merged into the conversation's
	// custom attributes.
	CustomAttributes map[string]any
}

// NewUpdateAction creates a conversation update action.
func NewUpdateAction(c *client.Client, state string, customAttributes map[string]any) (*UpdateAction, error) {
	if state == "" && len(customAttributes) == 0 {
		return nil, errors.New("update action needs a state or custom attributes")
	}
	return &UpdateAction{client: c, State: state, CustomAttributes: customAttributes}, nil
}

// Perform implements bulk.Action.
func (a *UpdateAction) Perform(ctx context.Context, itemID string, _ search.Item) error {
	payload := map[string]any{"id": itemID}
	if a.State != "" {
		payload["state"] = a.State
	}
	if len(a.CustomAttributes) > 0 {
		payload["custom_attributes"] = a.CustomAttributes
	}
	_, err := a.client.PutJSON(ctx, "conversations/"+itemID, payload)
	return err
}

package api

import (
	"context"
	"net/http"
	"net/url"
)

// actionItemPayload is the write body for the /action-items endpoints.
// Action items have no stable id of their own; the server keys them by
// conversation id plus description.
type actionItemPayload struct {
	ConversationID string `json:"conversation_id"`
	Description    string `json:"description"`
	Completed      bool   `json:"completed"`
}

// CreateActionItem adds a new action item to a conversation.
func (c *Client) CreateActionItem(ctx context.Context, conversationID, description string) error {
	body := actionItemPayload{ConversationID: conversationID, Description: description}
	return c.Mutate(ctx, http.MethodPost, "/action-items", body, nil)
}

// SetActionItemCompleted toggles an action item's completion state.
func (c *Client) SetActionItemCompleted(ctx context.Context, conversationID, description string, completed bool) error {
	body := actionItemPayload{ConversationID: conversationID, Description: description, Completed: completed}
	return c.Mutate(ctx, http.MethodPatch, "/action-items", body, nil)
}

// DeleteActionItem removes an action item from a conversation.
func (c *Client) DeleteActionItem(ctx context.Context, conversationID, description string) error {
	query := url.Values{}
	query.Set("conversation_id", conversationID)
	query.Set("description", description)
	return c.Mutate(ctx, http.MethodDelete, "/action-items?"+query.Encode(), nil, nil)
}

// ListMemories fetches all memories stored by the remote service.
func (c *Client) ListMemories(ctx context.Context) ([]Memory, error) {
	var memories []Memory
	if err := c.Mutate(ctx, http.MethodGet, "/memories", nil, &memories); err != nil {
		return nil, err
	}
	return memories, nil
}

// CreateMemory stores a new memory.
func (c *Client) CreateMemory(ctx context.Context, content, category string) (*Memory, error) {
	body := map[string]string{"content": content, "category": category}
	var memory Memory
	if err := c.Mutate(ctx, http.MethodPost, "/memories", body, &memory); err != nil {
		return nil, err
	}
	return &memory, nil
}

// DeleteMemory removes a memory by id.
func (c *Client) DeleteMemory(ctx context.Context, id string) error {
	return c.Mutate(ctx, http.MethodDelete, "/memories/"+url.PathEscape(id), nil, nil)
}

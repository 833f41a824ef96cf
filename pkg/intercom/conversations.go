// Package intercom provides concrete search sources and actions for
// Intercom conversation workflows: find conversations by team and state,
// then close them, tag them, or update their attributes in bulk.
package intercom

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/rkoehl/intercom-bulk/pkg/search"
)

// ErrMissingTeamID is returned when a conversation search is built
// without a team.
var ErrMissingTeamID = errors.New("team_id is required for conversation search")

// ConversationSource finds conversations assigned to a team in a given
// state via the conversations search endpoint.
type ConversationSource struct {
	// TeamID is the team assignee to match. Required.
	TeamID string

	// State filters by conversation state (default: "open").
	State string
}

// Endpoint implements search.Source.
func (s ConversationSource) Endpoint() string {
	return "conversations/search"
}

// BuildQuery implements search.Source. The expression matches
// conversations assigned to the team in the configured state.
func (s ConversationSource) BuildQuery() (search.Query, error) {
	if s.TeamID == "" {
		return nil, ErrMissingTeamID
	}
	state := s.State
	if state == "" {
		state = "open"
	}

	return map[string]any{
		"operator": "AND",
		"value": []map[string]any{
			{"field": "team_assignee_id", "operator": "=", "value": s.TeamID},
			{"field": "state", "operator": "=", "value": state},
		},
	}, nil
}

// ExtractItemID implements search.Source. Conversation IDs arrive as
// strings, but numbers are tolerated since some endpoints return them
// unquoted.
func (s ConversationSource) ExtractItemID(item search.Item) (string, error) {
	switch v := item["id"].(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("conversation has empty id")
		}
		return v, nil
	case float64:
		return strconv.FormatInt(int64(v), 10), nil
	case nil:
		return "", fmt.Errorf("conversation has no id field")
	default:
		return "", fmt.Errorf("conversation id has unexpected type %T", v)
	}
}

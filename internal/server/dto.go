package server

import (
	"encoding/json"

	"adjudicator/internal/domain"
)

type SessionResponse = domain.Session

type UnitResponse = domain.UnitRecord

type MetricResponse = domain.MetricRecord

type EventResponse struct {
	ID       int64          `json:"id"`
	TS       string         `json:"ts" format:"date-time"`
	Type     string         `json:"type"`
	TaskID   string         `json:"task_id,omitempty"`
	EntityID string         `json:"entity_id,omitempty"`
	ActorID  string         `json:"actor_id"`
	Payload  map[string]any `json:"payload"`
}

type SummaryResponse struct {
	Sessions map[string]int `json:"sessions"`
	Total    int            `json:"total"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type paginatedSessions struct {
	Items      []SessionResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type unitsResponse struct {
	TaskID   string         `json:"task_id"`
	Items    []UnitResponse `json:"items"`
	Claimed  int            `json:"claimed"`
	Verified int            `json:"verified"`
}

type metricsResponse struct {
	TaskID string           `json:"task_id"`
	Items  []MetricResponse `json:"items"`
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:       e.ID,
		TS:       e.TS,
		Type:     e.Type,
		TaskID:   e.TaskID,
		EntityID: e.EntityID,
		ActorID:  e.ActorID,
		Payload:  decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

package server

import (
	"treta/internal/control"
	"treta/internal/domain"
	"treta/internal/events"
	"treta/internal/store"
)

// Request payloads

type EventRequest struct {
	Type    string         `json:"type" minLength:"1" example:"RunStrategyDecision"`
	Payload map[string]any `json:"payload,omitempty"`
	Source  string         `json:"source,omitempty" example:"openclaw"`
}

type IDRequest struct {
	ID string `json:"id"`
}

type BuildPlanRequest struct {
	ProposalID string `json:"proposal_id"`
}

type SaleRequest struct {
	Amount float64 `json:"amount" exclusiveMinimum:"0"`
}

type LaunchStatusRequest struct {
	Status string `json:"status" enum:"draft,active,paused,archived"`
}

type LinkSalesRequest struct {
	ProductID string `json:"product_id"`
}

type StrategicPlanRequest struct {
	Objective string `json:"objective" minLength:"1"`
}

type MessageRequest struct {
	Text string `json:"text"`
}

// Query parameters

type statusQuery struct {
	Status string `query:"status"`
}

type limitQuery struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

// Response payloads

type HealthResponse struct {
	Status    string  `json:"status" enum:"ok,degraded"`
	AuthMode  string  `json:"auth_mode" enum:"token,dev,degraded,open"`
	Timestamp float64 `json:"timestamp"`
	Version   string  `json:"version"`
}

type ReadyResponse struct {
	Status string          `json:"status"`
	Checks map[string]bool `json:"checks"`
}

type StateResponse struct {
	State string `json:"state" enum:"IDLE,LISTENING,THINKING,SPEAKING,ERROR"`
}

type ItemsResponse[T any] struct {
	Items []T `json:"items"`
}

func listOf[T any](items []T) ItemsResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ItemsResponse[T]{Items: items}
}

type QueuedResponse struct {
	Status    string `json:"status" enum:"queued"`
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
}

type DismissResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type EvaluationResponse struct {
	ID       string                     `json:"id"`
	Decision domain.OpportunityDecision `json:"decision"`
	Item     domain.Opportunity         `json:"item"`
}

type DailyLoopResponse struct {
	control.LoopState
	Timestamp float64 `json:"timestamp"`
}

type ReplyResponse struct {
	ReplyText string `json:"reply_text"`
}

type MemoryResponse = store.MemorySnapshot

type EventsResponse struct {
	Events []events.Event `json:"events"`
}

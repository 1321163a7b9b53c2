package server

import "github.com/attunehealth/attune/models"

// HTTPError is the unified error envelope returned by all handlers.
type HTTPError struct {
	Error string `json:"error"`
}

type AuthSignupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

// SearchRequest is the direct retrieval endpoint payload.
type SearchRequest struct {
	Text    string                 `json:"text"`
	TopK    int                    `json:"top_k"`
	Filters map[string]string      `json:"filters,omitempty"`
	Patient *models.PatientContext `json:"patient,omitempty"`
}

// SearchResponse carries the ranked results with their raw signals.
type SearchResponse struct {
	Results []models.RankedCandidate `json:"results"`
}

// TurnRequest is one conversational utterance.
type TurnRequest struct {
	Text string `json:"text"`
}

// TurnResponse is the companion's reply for one turn.
type TurnResponse struct {
	SessionID string           `json:"session_id"`
	Reply     string           `json:"reply"`
	Path      models.ReplyPath `json:"path"`
	Resources []string         `json:"resources,omitempty"`
}

// IngestResponse reports how many documents an admin ingest accepted.
type IngestResponse struct {
	Ingested int `json:"ingested"`
	Total    int `json:"total"`
}

package api

import (
	"encoding/json"
	"time"
)

// Wire shapes of the exposure server HTTP contract.

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token       string `json:"token"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

type AIReport struct {
	Summary          string   `json:"summary"`
	RiskScore        *int     `json:"riskScore,omitempty"`
	KeyFindings      []string `json:"keyFindings"`
	Recommendations  []string `json:"recommendations"`
	DeconChecklist   []string `json:"deconChecklist"`
	PolicySuggestion *string  `json:"policySuggestion,omitempty"`
}

type InsightsReport struct {
	WindowHours int                        `json:"windowHours"`
	Metrics     map[string]json.RawMessage `json:"metrics"`
	AIReport    AIReport                   `json:"aiReport"`
	Model       string                     `json:"model"`
	Source      string                     `json:"source"`
}

type TimePoint struct {
	TS      time.Time `json:"ts"`
	TVOCPPB *float64  `json:"tvoc_ppb,omitempty"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
	Error       APIError  `json:"error"`
}

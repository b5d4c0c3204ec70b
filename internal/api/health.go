package api

import "time"

type HealthResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
	Status      string    `json:"status"`
}

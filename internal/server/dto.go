package server

import (
	"ostisync/internal/domain"
)

// Response payloads

type RecordListResponse struct {
	Items []domain.SourceRecord `json:"items"`
}

type RecordResponse struct {
	Record domain.SourceRecord `json:"record"`
}

type OutcomeListResponse struct {
	Items []domain.SubmissionOutcome `json:"items"`
}

type RunListResponse struct {
	Items []domain.Run `json:"items"`
}

type RunResponse struct {
	Run domain.Run `json:"run"`
}

type StatusResponse struct {
	Records         int         `json:"records"`
	UnpostedRecords int         `json:"unposted_records"`
	LatestRun       *domain.Run `json:"latest_run,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

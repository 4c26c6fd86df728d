package controllers

import "github.com/datallboy/gobili/internal/domain"

// -- REQUESTS ---
type CreateJobRequest struct {
	BVID   string `json:"bvid"`
	Mode   string `json:"mode"`
	OutDir string `json:"out_dir"`
}

// -- RESPONSES ---
type JobListResponse struct {
	Active  *domain.JobSnapshot  `json:"active,omitempty"`
	Queue   []domain.JobSnapshot `json:"queue"`
	History []domain.JobSnapshot `json:"history"`
}

type CancelResponse struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

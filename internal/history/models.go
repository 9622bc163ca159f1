package history

import "time"

// Deployment statuses stored in the history
const (
	StatusPublished = "published"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// DeploymentRecord represents a single deployment attempt in the database
type DeploymentRecord struct {
	ID              int64      `json:"id"`
	DeploymentID    string     `json:"deployment_id"`
	Job             string     `json:"job"`
	BuildNumber     int        `json:"build_number"` // 0 for one-shot deployments
	Status          string     `json:"status"`       // published, rejected, failed
	Kind            *string    `json:"kind,omitempty"`
	Target          *string    `json:"target,omitempty"`
	Release         *string    `json:"release,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ErrorMessage    *string    `json:"error,omitempty"`
}

// JobStatus is the latest deployment of a job plus its recent history
type JobStatus struct {
	Job              string             `json:"job"`
	LatestDeployment *DeploymentRecord  `json:"latest_deployment,omitempty"`
	RecentHistory    []DeploymentRecord `json:"recent_history"`
}

package queue

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// JobStatus tracks a provisioning job through the queue.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Job is the durable record of one provisioning request. Jobs survive
// process restarts; a pending row with next_run_at in the past is picked up
// by whichever worker claims it first.
type Job struct {
	ID                string        `gorm:"primaryKey" json:"id"`
	Status            JobStatus     `gorm:"type:text;not null;index" json:"status"`
	OrganizationName  string        `gorm:"type:text;not null" json:"organization_name"`
	AdminEmail        string        `gorm:"type:text;not null" json:"admin_email"`
	AdminPasswordHash string        `gorm:"type:text;not null" json:"-"`
	Plan              string        `gorm:"type:text;not null" json:"plan"`
	ExternalOrgID     string        `gorm:"column:external_org_id" json:"external_org_id,omitempty"`
	Progress          int           `gorm:"not null;default:0" json:"progress"`
	CurrentStep       string        `gorm:"type:text" json:"current_step"`
	Attempts          int           `gorm:"not null;default:0" json:"attempts"`
	NextRunAt         time.Time     `gorm:"column:next_run_at;not null;index" json:"next_run_at"`
	TenantID          *snowflake.ID `gorm:"column:tenant_id" json:"tenant_id,omitempty"`
	LastError         string        `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	CreatedAt         time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time     `gorm:"not null" json:"updated_at"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (Job) TableName() string { return "provisioning_jobs" }

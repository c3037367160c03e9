package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingSiteID is returned by ParseAuditTask for a payload without a site.
var ErrMissingSiteID = errors.New("audit task has no site id")

// AuditTask asks the worker to audit one site. Producers may identify the
// site by ID or, for operator tooling, by domain.
type AuditTask struct {
	SiteID string `json:"site_id"`
	Domain string `json:"domain,omitempty"`
	// Trigger records who enqueued the task (api, schedule, cli).
	Trigger string `json:"trigger,omitempty"`
}

// ParseAuditTask decodes and validates a queued payload.
func ParseAuditTask(payload []byte) (AuditTask, error) {
	var task AuditTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return AuditTask{}, fmt.Errorf("decode audit task: %w", err)
	}
	task.SiteID = strings.TrimSpace(task.SiteID)
	task.Domain = strings.TrimSpace(task.Domain)
	if task.SiteID == "" && task.Domain == "" {
		return task, ErrMissingSiteID
	}
	return task, nil
}

// Ref names the site for logs and error records.
func (t AuditTask) Ref() string {
	if t.SiteID != "" {
		return t.SiteID
	}
	return t.Domain
}

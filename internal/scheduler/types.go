// Package scheduler implements the scheduled maintenance jobs for the
// ShutterDesk auth platform.
//
// This file defines the shared types for the maintenance multiplexer. The
// MaintenancePayload is the JSON structure sent by EventBridge rules to the
// maintenance Lambda. The TaskType constant determines which cleanup runs.
package scheduler

import "time"

// TaskType identifies which maintenance task an EventBridge event requests.
type TaskType string

const (
	TaskSweepSessions      TaskType = "sweep_sessions"
	TaskPurgeAttempts      TaskType = "purge_attempts"
	TaskPurgeRateBuckets   TaskType = "purge_rate_buckets"
	TaskPurgeRefreshTokens TaskType = "purge_refresh_tokens"

	// TaskAll runs every cleanup. The default when no task is named.
	TaskAll TaskType = "all"
)

// MaintenancePayload is the JSON payload sent by EventBridge to the
// maintenance Lambda. It identifies the task to execute and optionally
// overrides the reference time for manual invocation or backfilling.
//
//	{
//	  "task": "purge_attempts",
//	  "reference_time": "2026-09-01T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime allows manual invocation to specify a different "now"
	// for deterministic execution and backfilling. If nil, time.Now().UTC()
	// is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

package types

// JobType identifies the workflow a job executes.
type JobType string

const (
	JobFetch          JobType = "fetch"
	JobDelete         JobType = "delete"
	JobDM             JobType = "dm"
	JobBlock          JobType = "block"
	JobUnblock        JobType = "unblock"
	JobDeleteDMs      JobType = "delete_dms"
	JobDeleteDMGroups JobType = "delete_dm_groups"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobFetch, JobDelete, JobDM, JobBlock, JobUnblock, JobDeleteDMs, JobDeleteDMGroups:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job.
//
// Transitions are monotonic: pending -> active -> {finished, canceled}.
// Terminal states are never left.
type JobStatus string

const (
	JobStatusPending  JobStatus = "pending"
	JobStatusActive   JobStatus = "active"
	JobStatusFinished JobStatus = "finished"
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusFinished || s == JobStatusCanceled
}

// Lane is a named priority queue within the scheduler. DM sends get their
// own lanes so notification messages are never starved behind bulk
// per-tweet deletion work.
type Lane string

const (
	LaneJobs   Lane = "jobs"
	LaneDMHigh Lane = "dm_jobs_high"
	LaneDMLow  Lane = "dm_jobs_low"
)

// DMExportKind distinguishes the two bulk direct-message export variants.
type DMExportKind string

const (
	DMExportDirect DMExportKind = "dms"
	DMExportGroups DMExportKind = "groups"
)

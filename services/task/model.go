package task

import (
	"incentive-pipeline/pkg/taskname"
	"incentive-pipeline/services/job"
)

// Operation names a pipeline run.
type Operation string

const (
	OpExtractFull        Operation = "extract_full"
	OpExtractIncremental Operation = "extract_incremental"
	OpProcess            Operation = "process"
	OpRequeueIneligible  Operation = "requeue_ineligible"
	// OpSync is an incremental extraction followed by processing.
	OpSync Operation = "sync"
)

var operationTasks = map[Operation]string{
	OpExtractFull:        taskname.PipelineExtractFull,
	OpExtractIncremental: taskname.PipelineExtractIncremental,
	OpProcess:            taskname.PipelineProcess,
	OpRequeueIneligible:  taskname.PipelineRequeueIneligible,
	OpSync:               taskname.PipelineSync,
}

func operationOf(taskType string) (Operation, bool) {
	for op, t := range operationTasks {
		if t == taskType {
			return op, true
		}
	}
	return "", false
}

type ExecuteRequest struct {
	CampaignID string    `json:"campaign_id"`
	Operation  Operation `json:"operation"`
}

// JobType selects the job table for Retry and Status.
type JobType string

const (
	JobExtraction JobType = "extraction"
	JobProcessing JobType = "processing"
)

// Result carries the job records a run produced.
type Result struct {
	Operation  Operation
	Extraction *job.ExtractionJob
	Processing *job.ProcessingJob
	Requeued   int64
}

type EnqueueResult struct {
	TaskID string
	Queue  string
}

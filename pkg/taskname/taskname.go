package taskname

const (
	// Extraction tasks
	PipelineExtractFull        = "pipeline:extract:full"
	PipelineExtractIncremental = "pipeline:extract:incremental"

	// Processing tasks
	PipelineProcess           = "pipeline:process"
	PipelineRequeueIneligible = "pipeline:process:requeue"

	// Incremental extraction followed by processing, enqueued by the scheduler
	PipelineSync = "pipeline:sync"
)

// All lists every task type a worker must handle.
var All = []string{
	PipelineExtractFull,
	PipelineExtractIncremental,
	PipelineProcess,
	PipelineRequeueIneligible,
	PipelineSync,
}

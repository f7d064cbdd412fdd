package asynq

// DefaultQueue is used when PIPELINE.QUEUE is empty.
const DefaultQueue = "pipeline"

// CampaignPayload is the body of every pipeline task.
type CampaignPayload struct {
	CampaignID string `json:"campaign_id"`
}

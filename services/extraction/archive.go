package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"incentive-pipeline/services/source"
)

// archiveRows keeps a raw copy of the fetched rows. Failures are logged only.
func (r *run) archiveRows(ctx context.Context, rows []source.Row) {
	if r.archive == nil || len(rows) == 0 {
		return
	}

	body, err := json.Marshal(rows)
	if err != nil {
		r.log.Warn("failed to encode raw rows", zap.Error(err))
		return
	}

	object := fmt.Sprintf("extractions/%s/%s.json", r.campaign.CampaignID, r.job.ID)
	if err := r.archive.Put(ctx, object, body, "application/json"); err != nil {
		r.log.Warn("failed to archive raw rows", zap.String("object", object), zap.Error(err))
		return
	}
	r.log.Debug("raw rows archived", zap.String("object", object))
}

package extraction

import (
	"go.uber.org/fx"

	"incentive-pipeline/pkg/minio"
)

var Module = fx.Module("extraction.service",
	fx.Provide(
		NewService,
		archiveFromBucket,
	),
)

func archiveFromBucket(b *minio.Bucket) Archive {
	if b == nil {
		return nil
	}
	return b
}

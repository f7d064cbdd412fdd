package ledger

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"incentive-pipeline/pkg/client"
	"incentive-pipeline/pkg/config"
)

var Module = fx.Module("ledger.accruer",
	fx.Provide(NewAccruer),
)

// NewAccruer builds the accruer for LEDGER.TRANSPORT (grpc by default).
func NewAccruer(lc fx.Lifecycle, cfg *config.Config) (Accruer, error) {
	switch strings.ToLower(cfg.Ledger.Transport) {
	case "http":
		zap.L().Info("ledger accruer over http", zap.String("base_url", cfg.Ledger.BaseURL))
		return NewHTTPAccruer(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.Timeout), nil
	default:
		c, err := client.NewLedgerClient(lc, cfg)
		if err != nil {
			return nil, err
		}
		zap.L().Info("ledger accruer over grpc", zap.String("addr", cfg.Ledger.Addr))
		return NewGRPCAccruer(c), nil
	}
}

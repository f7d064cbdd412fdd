package client

import (
	"context"

	ledgerv1 "github.com/smallbiznis/go-genproto/smallbiznis/ledger/v1"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"incentive-pipeline/pkg/config"
)

func NewGRPCConn(lc fx.Lifecycle, addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return conn.Close()
		},
	})

	return conn, nil
}

func NewLedgerClient(lc fx.Lifecycle, cfg *config.Config) (ledgerv1.LedgerServiceClient, error) {
	conn, err := NewGRPCConn(lc, cfg.Ledger.Addr)
	if err != nil {
		zap.L().Error("failed to connect ledger", zap.Error(err), zap.String("addr", cfg.Ledger.Addr))
		return nil, err
	}
	return ledgerv1.NewLedgerServiceClient(conn), nil
}

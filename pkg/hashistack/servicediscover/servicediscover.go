package servicediscover

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"incentive-pipeline/pkg/config"

	"github.com/hashicorp/consul/api"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module registers the ops server with the consul agent when CONSUL.ENABLE
// is set, so the readiness probe doubles as the consul health check.
var Module = fx.Module("consul.registry",
	fx.Invoke(registerConsul),
)

type ServiceRegistry interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

func registerConsul(lc fx.Lifecycle, cfg *config.Config) error {
	if !cfg.Consul.Enable {
		return nil
	}

	registry, err := NewConsulRegistry(cfg)
	if err != nil {
		return err
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := registry.Register(ctx); err != nil {
				zap.L().Error("consul register failed", zap.String("service_id", registry.serviceID), zap.Error(err))
				return err
			}
			zap.L().Info("registered with consul", zap.String("service_id", registry.serviceID))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return registry.Deregister(ctx)
		},
	})
	return nil
}

type ConsulRegistry struct {
	client    *api.Client
	serviceID string
	service   *api.AgentServiceRegistration
}

func NewConsulRegistry(cfg *config.Config) (*ConsulRegistry, error) {
	conf := api.DefaultConfig()
	conf.Address = cfg.Consul.Addr

	client, err := api.NewClient(conf)
	if err != nil {
		return nil, err
	}

	return &ConsulRegistry{
		client:    client,
		serviceID: serviceID(cfg),
		service:   registration(cfg),
	}, nil
}

func (r *ConsulRegistry) Register(ctx context.Context) error {
	return r.client.Agent().ServiceRegister(r.service)
}

func (r *ConsulRegistry) Deregister(ctx context.Context) error {
	return r.client.Agent().ServiceDeregister(r.serviceID)
}

func serviceID(cfg *config.Config) string {
	return fmt.Sprintf("%s-%d", cfg.AppName, cfg.NodeID)
}

func registration(cfg *config.Config) *api.AgentServiceRegistration {
	host := cfg.Consul.Host
	if host == "" {
		host, _ = os.Hostname()
	}
	port := opsPort(cfg.Ops.Addr)

	return &api.AgentServiceRegistration{
		ID:      serviceID(cfg),
		Name:    cfg.AppName,
		Address: host,
		Port:    port,
		Tags:    []string{cfg.AppEnv},
		Check: &api.AgentServiceCheck{
			HTTP:     fmt.Sprintf("http://%s/readyz", net.JoinHostPort(host, strconv.Itoa(port))),
			Interval: "10s",
			Timeout:  "5s",
		},
	}
}

// opsPort accepts both "8081" and "host:8081".
func opsPort(addr string) int {
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		addr = addr[i+1:]
	}
	port, err := strconv.Atoi(addr)
	if err != nil {
		return 0
	}
	return port
}

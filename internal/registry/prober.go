package registry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/infra"
	"github.com/xela07ax/ideahub-orchestration-prototype/internal/requester"
)

// Requester — исходящий клиент, через который ходят пробы здоровья.
// Пробы видны предохранителям: лежащий сервис не долбится в обход них.
type Requester interface {
	Do(ctx context.Context, req requester.ServiceRequest) (*requester.Result, error)
}

// Prober — фоновый опросчик здоровья. Отдельный тип разрывает цикл сборки:
// клиент резолвит адреса через реестр, пробер ходит через клиент.
type Prober struct {
	reg    *Registry
	client Requester
	cfg    infra.RegistryConfig
	logger *zap.Logger
}

func NewProber(reg *Registry, client Requester, logger *zap.Logger) *Prober {
	return &Prober{
		reg:    reg,
		client: client,
		cfg:    reg.cfg,
		logger: logger.Named("prober"),
	}
}

// Run — цикл опроса. Первый обход выполняется сразу, дальше по тикеру.
// Останавливается только через отмену контекста.
func (p *Prober) Run(ctx context.Context) {
	p.logger.Info("health prober started", zap.Duration("interval", p.cfg.ProbeInterval))

	ticker := time.NewTicker(p.cfg.ProbeInterval)
	defer ticker.Stop()

	p.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("health prober stopped")
			return
		case <-ticker.C:
			p.probeAll(ctx)
		}
	}
}

// probeAll опрашивает все сервисы конкурентно и ждёт завершения обхода.
func (p *Prober) probeAll(ctx context.Context) {
	targets := p.reg.probeTargets()

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(name, path string) {
			defer wg.Done()
			p.probeOne(ctx, name, path)
		}(t.name, t.path)
	}
	wg.Wait()
}

// probeOne выполняет одну пробу через клиент. Отказ предохранителя —
// тоже неудача: недостижимый сервис здоровым быть не может.
func (p *Prober) probeOne(ctx context.Context, name, path string) {
	res, err := p.client.Do(ctx, requester.ServiceRequest{
		Service: name,
		Method:  http.MethodGet,
		Path:    path,
		Timeout: p.cfg.ProbeTimeout,
	})

	success := err == nil && res.StatusCode >= http.StatusOK && res.StatusCode < http.StatusMultipleChoices
	var latency time.Duration
	if res != nil {
		latency = res.Latency
	}
	p.reg.applyProbeResult(name, success, latency)
}

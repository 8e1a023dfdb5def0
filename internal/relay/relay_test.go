package relay

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/xela07ax/ideahub-orchestration-prototype/internal/domain"
)

type fakeAgents struct {
	calls []string
	err   error
}

func (f *fakeAgents) PauseAgent(id string) error   { f.calls = append(f.calls, "pause:"+id); return f.err }
func (f *fakeAgents) ResumeAgent(id string) error  { f.calls = append(f.calls, "resume:"+id); return f.err }
func (f *fakeAgents) RestartAgent(id string) error { f.calls = append(f.calls, "restart:"+id); return f.err }

type fakeBreakers struct {
	calls []string
	err   error
}

func (f *fakeBreakers) Reset(service string) error {
	f.calls = append(f.calls, "reset:"+service)
	return f.err
}

func newTestRelay(agents *fakeAgents, breakers *fakeBreakers) *Relay {
	return NewRelay(nil, agents, breakers, zap.NewNop())
}

func TestApplyAgentSignalDispatch(t *testing.T) {
	agents := &fakeAgents{}
	r := newTestRelay(agents, &fakeBreakers{})

	r.applyAgentSignal("a1", "pause")
	r.applyAgentSignal("a1", "resume")
	r.applyAgentSignal("a2", "restart")
	assert.Equal(t, []string{"pause:a1", "resume:a1", "restart:a2"}, agents.calls)

	// Неизвестная команда не доходит до реестра
	r.applyAgentSignal("a1", "detonate")
	assert.Len(t, agents.calls, 3)
}

func TestApplyAgentSignalErrorsTolerated(t *testing.T) {
	// Сигнал про чужого агента и отказ перехода не должны ронять цикл
	agents := &fakeAgents{err: fmt.Errorf("agents: pause: %w", domain.ErrAgentNotFound)}
	r := newTestRelay(agents, &fakeBreakers{})
	r.applyAgentSignal("ghost", "pause")

	agents.err = fmt.Errorf("agents: pause: %w", domain.ErrInvalidTransition)
	r.applyAgentSignal("busy", "pause")
	assert.Equal(t, []string{"pause:ghost", "pause:busy"}, agents.calls)
}

func TestApplyBreakerSignalDispatch(t *testing.T) {
	breakers := &fakeBreakers{}
	r := newTestRelay(&fakeAgents{}, breakers)

	r.applyBreakerSignal("payment-api", "reset")
	assert.Equal(t, []string{"reset:payment-api"}, breakers.calls)

	r.applyBreakerSignal("payment-api", "open")
	assert.Len(t, breakers.calls, 1)

	breakers.err = fmt.Errorf("requester: reset: %w", domain.ErrServiceNotFound)
	r.applyBreakerSignal("unknown-api", "reset")
	assert.Len(t, breakers.calls, 2)
}

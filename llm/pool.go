package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// failureThreshold is how many consecutive failures mark a provider unhealthy.
	failureThreshold = 3

	// cooldownPeriod is how long an unhealthy provider sits out before it is
	// offered traffic again.
	cooldownPeriod = 30 * time.Second
)

// ErrNoHealthyProvider is returned when every pool member is cooling down
// and the last-resort attempt also failed.
var ErrNoHealthyProvider = errors.New("llm: no healthy provider available")

type member struct {
	svc      Service
	name     string
	failures int
	downTill time.Time
}

func (m *member) healthy(now time.Time) bool {
	return now.After(m.downTill)
}

func (m *member) recordSuccess() {
	m.failures = 0
	m.downTill = time.Time{}
}

func (m *member) recordFailure(now time.Time) {
	m.failures++
	if m.failures >= failureThreshold {
		m.downTill = now.Add(cooldownPeriod)
		slog.Warn("llm: provider cooling down",
			"provider", m.name,
			"consecutive_failures", m.failures,
			"cooldown", cooldownPeriod,
		)
	}
}

// Pool fronts several providers, routing each call to the next healthy one
// in round-robin order. A provider that fails failureThreshold calls in a
// row is benched for cooldownPeriod. If every member is benched, the least
// recently benched one gets a last-resort attempt.
type Pool struct {
	mu      sync.Mutex
	members []*member
	next    int
}

// NewPool creates a provider pool. At least one config is required.
func NewPool(configs []*Config) *Pool {
	p := &Pool{}
	for _, cfg := range configs {
		p.members = append(p.members, &member{svc: NewService(cfg), name: cfg.Name})
	}
	return p
}

// NewPoolFromServices builds a pool from already-constructed services.
// Used by tests to inject fakes.
func NewPoolFromServices(named map[string]Service) *Pool {
	p := &Pool{}
	for name, svc := range named {
		p.members = append(p.members, &member{svc: svc, name: name})
	}
	return p
}

// Chat routes the call to a healthy provider, marking health from the outcome.
func (p *Pool) Chat(ctx context.Context, messages []Message, opts *Options) (string, *CallStats, error) {
	attempted := make(map[*member]bool)
	for {
		m := p.pick(attempted)
		if m == nil {
			return "", nil, ErrNoHealthyProvider
		}
		attempted[m] = true

		content, stats, err := m.svc.Chat(ctx, messages, opts)
		p.mu.Lock()
		if err != nil {
			m.recordFailure(time.Now())
			p.mu.Unlock()
			if ctx.Err() != nil {
				return "", nil, err
			}
			continue
		}
		m.recordSuccess()
		p.mu.Unlock()
		return content, stats, nil
	}
}

// ChatStream routes a streaming call to a healthy provider. Stream-level
// failures are reported on the error channel but do not re-route mid-stream.
func (p *Pool) ChatStream(ctx context.Context, messages []Message, opts *Options) (<-chan string, <-chan error) {
	m := p.pick(nil)
	if m == nil {
		contentChan := make(chan string)
		errChan := make(chan error, 1)
		close(contentChan)
		errChan <- ErrNoHealthyProvider
		close(errChan)
		return contentChan, errChan
	}
	return m.svc.ChatStream(ctx, messages, opts)
}

// Warmup pings every member.
func (p *Pool) Warmup(ctx context.Context) {
	p.mu.Lock()
	members := make([]*member, len(p.members))
	copy(members, p.members)
	p.mu.Unlock()

	for _, m := range members {
		m.svc.Warmup(ctx)
	}
}

// pick returns the next healthy, not-yet-attempted member in round-robin
// order; falling back to the least recently benched member when none are
// healthy, and nil when everything has been attempted.
func (p *Pool) pick(attempted map[*member]bool) *member {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.members) == 0 {
		return nil
	}

	now := time.Now()
	for i := 0; i < len(p.members); i++ {
		m := p.members[(p.next+i)%len(p.members)]
		if attempted[m] {
			continue
		}
		if m.healthy(now) {
			p.next = (p.next + i + 1) % len(p.members)
			return m
		}
	}

	// Everyone is benched: give the member closest to recovery one shot.
	var best *member
	for _, m := range p.members {
		if attempted[m] {
			continue
		}
		if best == nil || m.downTill.Before(best.downTill) {
			best = m
		}
	}
	return best
}

var _ Service = (*Pool)(nil)

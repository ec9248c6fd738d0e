package dispatch

import (
	"context"
	"fmt"
	"sync"

	"program-trader/internal/decision"

	"go.uber.org/zap"
)

// Paper is a placer that books decisions in memory instead of reaching an
// exchange. Used for dry runs and tests.
type Paper struct {
	log *zap.Logger

	mu          sync.Mutex
	seq         int
	submissions []Submission
}

type Submission struct {
	Ref      string
	Account  string
	Decision decision.Decision
}

func NewPaper(log *zap.Logger) *Paper {
	return &Paper{log: log}
}

func (p *Paper) Submit(ctx context.Context, account string, d decision.Decision) (string, error) {
	_ = ctx
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	ref := fmt.Sprintf("paper-%d", p.seq)
	p.submissions = append(p.submissions, Submission{Ref: ref, Account: account, Decision: d})
	if p.log != nil {
		p.log.Info("paper order booked",
			zap.String("ref", ref),
			zap.String("account", account),
			zap.String("operation", string(d.Operation)),
			zap.String("symbol", d.Symbol),
			zap.Float64("portion", d.TargetPortion),
			zap.Int("leverage", d.Leverage),
		)
	}
	return ref, nil
}

func (p *Paper) Submissions() []Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Submission(nil), p.submissions...)
}

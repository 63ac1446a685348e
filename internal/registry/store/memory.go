// Package store provides registry persistence: an in-memory implementation
// for dev and tests, and a PostgreSQL implementation for deployments. Both
// expose the same data methods plus a RunInTx boundary; services declare the
// interfaces they consume.
package store

import (
	"context"
	"sync"
	"time"

	"conubium/internal/registry/models"
	dErrors "conubium/pkg/domain-errors"
	"conubium/pkg/domain"
	"conubium/pkg/platform/sentinel"
)

// defaultTxTimeout bounds a registry transaction.
const defaultTxTimeout = 5 * time.Second

type memTxKey struct{}

var memTxCtx = memTxKey{}

type state struct {
	proposals map[domain.ProposalID]models.Proposal
	marriages map[domain.MarriageID]models.Marriage
	index     map[domain.Identity]domain.MarriageID
	consumed  map[domain.Identity]struct{}
	config    models.Config
}

func newState() *state {
	return &state{
		proposals: make(map[domain.ProposalID]models.Proposal),
		marriages: make(map[domain.MarriageID]models.Marriage),
		index:     make(map[domain.Identity]domain.MarriageID),
		consumed:  make(map[domain.Identity]struct{}),
	}
}

func (s *state) clone() *state {
	c := &state{
		proposals: make(map[domain.ProposalID]models.Proposal, len(s.proposals)),
		marriages: make(map[domain.MarriageID]models.Marriage, len(s.marriages)),
		index:     make(map[domain.Identity]domain.MarriageID, len(s.index)),
		consumed:  make(map[domain.Identity]struct{}, len(s.consumed)),
		config:    s.config,
	}
	for k, v := range s.proposals {
		c.proposals[k] = v
	}
	for k, v := range s.marriages {
		if v.DissolvedAt != nil {
			at := *v.DissolvedAt
			v.DissolvedAt = &at
		}
		c.marriages[k] = v
	}
	for k, v := range s.index {
		c.index[k] = v
	}
	for k := range s.consumed {
		c.consumed[k] = struct{}{}
	}
	return c
}

// Memory keeps the whole registry in process. Mutations run through RunInTx,
// which clones the state, applies the callback to the clone, and swaps it in
// only on success, so a failing transaction leaves nothing behind. The
// exclusive lock over the whole transaction is the in-memory analog of the
// registry's single-writer discipline.
type Memory struct {
	mu    sync.RWMutex
	state *state

	timeout time.Duration
}

func NewMemory() *Memory {
	return &Memory{state: newState()}
}

// RunInTx executes fn against a transactional view. The view travels in the
// context, mirroring how the PostgreSQL store carries its sql.Tx.
func (m *Memory) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := m.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	staged := m.state.clone()
	if err := fn(context.WithValue(ctx, memTxCtx, staged)); err != nil {
		return err
	}
	m.state = staged
	return nil
}

// read and write resolve the state a call should touch: the staged
// transaction clone if the context carries one (RunInTx already holds the
// write lock, so the release func is a no-op), otherwise the live state under
// the appropriate lock.
func (m *Memory) read(ctx context.Context) (*state, func()) {
	if staged, ok := ctx.Value(memTxCtx).(*state); ok {
		return staged, func() {}
	}
	m.mu.RLock()
	return m.state, m.mu.RUnlock
}

func (m *Memory) write(ctx context.Context) (*state, func()) {
	if staged, ok := ctx.Value(memTxCtx).(*state); ok {
		return staged, func() {}
	}
	m.mu.Lock()
	return m.state, m.mu.Unlock
}

func (m *Memory) CreateProposal(ctx context.Context, p *models.Proposal) error {
	st, release := m.write(ctx)
	defer release()
	if _, exists := st.proposals[p.ID]; exists {
		return sentinel.ErrConflict
	}
	st.proposals[p.ID] = *p
	return nil
}

func (m *Memory) FindProposal(ctx context.Context, proposalID domain.ProposalID) (*models.Proposal, error) {
	st, release := m.read(ctx)
	defer release()
	p, ok := st.proposals[proposalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (m *Memory) UpdateProposal(ctx context.Context, p *models.Proposal) error {
	st, release := m.write(ctx)
	defer release()
	if _, ok := st.proposals[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	st.proposals[p.ID] = *p
	return nil
}

func (m *Memory) CreateMarriage(ctx context.Context, mr *models.Marriage) error {
	st, release := m.write(ctx)
	defer release()
	if _, exists := st.marriages[mr.ID]; exists {
		return sentinel.ErrConflict
	}
	st.marriages[mr.ID] = *mr
	return nil
}

func (m *Memory) FindMarriage(ctx context.Context, marriageID domain.MarriageID) (*models.Marriage, error) {
	st, release := m.read(ctx)
	defer release()
	mr, ok := st.marriages[marriageID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if mr.DissolvedAt != nil {
		at := *mr.DissolvedAt
		mr.DissolvedAt = &at
	}
	return &mr, nil
}

func (m *Memory) UpdateMarriage(ctx context.Context, mr *models.Marriage) error {
	st, release := m.write(ctx)
	defer release()
	if _, ok := st.marriages[mr.ID]; !ok {
		return sentinel.ErrNotFound
	}
	st.marriages[mr.ID] = *mr
	return nil
}

func (m *Memory) BindIdentity(ctx context.Context, identity domain.Identity, marriageID domain.MarriageID) error {
	st, release := m.write(ctx)
	defer release()
	if _, bound := st.index[identity]; bound {
		return sentinel.ErrConflict
	}
	st.index[identity] = marriageID
	return nil
}

func (m *Memory) ReleaseIdentity(ctx context.Context, identity domain.Identity) error {
	st, release := m.write(ctx)
	defer release()
	delete(st.index, identity)
	return nil
}

func (m *Memory) ActiveMarriageOf(ctx context.Context, identity domain.Identity) (domain.MarriageID, error) {
	st, release := m.read(ctx)
	defer release()
	marriageID, ok := st.index[identity]
	if !ok {
		return domain.MarriageID{}, sentinel.ErrNotFound
	}
	return marriageID, nil
}

func (m *Memory) MarkConsumed(ctx context.Context, identity domain.Identity) error {
	st, release := m.write(ctx)
	defer release()
	st.consumed[identity] = struct{}{}
	return nil
}

func (m *Memory) IsConsumed(ctx context.Context, identity domain.Identity) (bool, error) {
	st, release := m.read(ctx)
	defer release()
	_, consumed := st.consumed[identity]
	return consumed, nil
}

func (m *Memory) GetConfig(ctx context.Context) (*models.Config, error) {
	st, release := m.read(ctx)
	defer release()
	cfg := st.config
	return &cfg, nil
}

func (m *Memory) SetConfig(ctx context.Context, cfg *models.Config) error {
	st, release := m.write(ctx)
	defer release()
	st.config = *cfg
	return nil
}

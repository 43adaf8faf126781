//go:build !integration

package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"telegram-image-generation/internal/domain"
	"telegram-image-generation/internal/domain/model"
	"telegram-image-generation/internal/domain/ports/adapter"
	"telegram-image-generation/internal/domain/ports/repository"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// mockTxManager runs the callback directly; there is no real transaction in
// unit tests. Lock acquisitions are recorded so admission tests can assert
// serialization happened.
type mockTxManager struct {
	mu      sync.Mutex
	locked  []int64
	withErr error
}

func newMockTxManager() *mockTxManager { return &mockTxManager{} }

func (m *mockTxManager) WithTx(ctx context.Context, _ pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.withErr != nil {
		return m.withErr
	}
	return fn(ctx, repository.NoTX)
}

func (m *mockTxManager) LockUser(_ context.Context, _ repository.Tx, telegramID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locked = append(m.locked, telegramID)
	return nil
}

// memUserRepo is a small in-memory implementation used by unit tests.
type memUserRepo struct {
	mu      sync.RWMutex
	store   map[int64]*model.User
	saveErr error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[int64]*model.User)}
}

func (m *memUserRepo) Save(_ context.Context, _ repository.Tx, u *model.User) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.store[u.TelegramID] = &cp
	return nil
}

func (m *memUserRepo) FindByTelegramID(_ context.Context, _ repository.Tx, tgID int64) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.store[tgID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.store {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) FindByReferralCode(_ context.Context, _ repository.Tx, code string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.store {
		if u.ReferralCode == code {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memUserRepo) CountUsers(context.Context, repository.Tx) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.store), nil
}

func (m *memUserRepo) ListAdmins(context.Context, repository.Tx) ([]*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.User
	for _, u := range m.store {
		if u.IsAdmin && !u.IsBanned {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memUserRepo) ResolveCohort(_ context.Context, _ repository.Tx, filter model.BroadcastFilter, now time.Time) ([]model.CohortMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.CohortMember
	for _, u := range m.store {
		if u.IsBanned {
			continue
		}
		switch filter {
		case model.FilterActive7d:
			if u.LastActiveAt.Before(now.Add(-7 * 24 * time.Hour)) {
				continue
			}
		case model.FilterNewUsers7d:
			if u.RegisteredAt.Before(now.Add(-7 * 24 * time.Hour)) {
				continue
			}
		}
		out = append(out, model.CohortMember{UserID: u.ID, TelegramID: u.TelegramID})
	}
	return out, nil
}

func (m *memUserRepo) CountCohort(ctx context.Context, tx repository.Tx, filter model.BroadcastFilter, now time.Time) (int, error) {
	members, err := m.ResolveCohort(ctx, tx, filter, now)
	return len(members), err
}

// memLedgerRepo enforces the (user, entry_type, reference_id) uniqueness the
// real store gets from its constraint.
type memLedgerRepo struct {
	mu      sync.RWMutex
	entries []*model.LedgerEntry
}

func newMemLedgerRepo() *memLedgerRepo { return &memLedgerRepo{} }

func (m *memLedgerRepo) Insert(_ context.Context, _ repository.Tx, e *model.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.entries {
		if x.UserID == e.UserID && x.EntryType == e.EntryType && x.ReferenceID == e.ReferenceID {
			return false, nil
		}
	}
	cp := *e
	m.entries = append(m.entries, &cp)
	return true, nil
}

func (m *memLedgerRepo) Balance(_ context.Context, _ repository.Tx, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, e := range m.entries {
		if e.UserID == userID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *memLedgerRepo) ListByUser(_ context.Context, _ repository.Tx, userID string, _ int) ([]*model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.LedgerEntry
	for _, e := range m.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memLedgerRepo) FindByReference(_ context.Context, _ repository.Tx, userID string, typ model.EntryType, ref string) (*model.LedgerEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.UserID == userID && e.EntryType == typ && e.ReferenceID == ref {
			cp := *e
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memLedgerRepo) SumByType(_ context.Context, _ repository.Tx, typ model.EntryType) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var sum int64
	for _, e := range m.entries {
		if e.EntryType == typ {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (m *memLedgerRepo) countByType(typ model.EntryType) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.EntryType == typ {
			n++
		}
	}
	return n
}

type memRequestRepo struct {
	mu    sync.RWMutex
	store map[string]*model.GenerationRequest
}

func newMemRequestRepo() *memRequestRepo {
	return &memRequestRepo{store: make(map[string]*model.GenerationRequest)}
}

func (m *memRequestRepo) Save(_ context.Context, _ repository.Tx, r *model.GenerationRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *memRequestRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.GenerationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRequestRepo) CountActiveByUser(_ context.Context, _ repository.Tx, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.store {
		if r.UserID == userID && !r.Status.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (m *memRequestRepo) FindActiveByUser(_ context.Context, _ repository.Tx, userID string) (*model.GenerationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.store {
		if r.UserID == userID && !r.Status.IsTerminal() {
			cp := *r
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memRequestRepo) FindStuck(_ context.Context, _ repository.Tx, olderThan time.Time, limit int) ([]*model.GenerationRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.GenerationRequest
	for _, r := range m.store {
		if !r.Status.IsTerminal() && r.CreatedAt.Before(olderThan) {
			cp := *r
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memRequestRepo) CountByStatus(context.Context, repository.Tx) (map[model.RequestStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[model.RequestStatus]int)
	for _, r := range m.store {
		out[r.Status]++
	}
	return out, nil
}

type memReferenceRepo struct {
	mu   sync.RWMutex
	refs []*model.GenerationReference
}

func newMemReferenceRepo() *memReferenceRepo { return &memReferenceRepo{} }

func (m *memReferenceRepo) Save(_ context.Context, _ repository.Tx, ref *model.GenerationReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ref
	m.refs = append(m.refs, &cp)
	return nil
}

func (m *memReferenceRepo) ListByRequest(_ context.Context, _ repository.Tx, requestID string) ([]*model.GenerationReference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.GenerationReference
	for _, r := range m.refs {
		if r.RequestID == requestID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memResultRepo struct {
	mu      sync.RWMutex
	results []*model.GenerationResult
}

func newMemResultRepo() *memResultRepo { return &memResultRepo{} }

func (m *memResultRepo) Save(_ context.Context, _ repository.Tx, res *model.GenerationResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, x := range m.results {
		if x.RequestID == res.RequestID && x.URL == res.URL {
			return nil // dedupe by URL
		}
	}
	cp := *res
	m.results = append(m.results, &cp)
	return nil
}

func (m *memResultRepo) ListByRequest(_ context.Context, _ repository.Tx, requestID string) ([]*model.GenerationResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.GenerationResult
	for _, r := range m.results {
		if r.RequestID == requestID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memJobRepo struct {
	mu    sync.RWMutex
	store map[string]*model.GenerationJob // by job ID
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{store: make(map[string]*model.GenerationJob)}
}

func (m *memJobRepo) Save(_ context.Context, _ repository.Tx, job *model.GenerationJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.store[job.ID] = &cp
	return nil
}

func (m *memJobRepo) FindByRequest(_ context.Context, _ repository.Tx, requestID string) (*model.GenerationJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.store {
		if j.RequestID == requestID {
			cp := *j
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type memTrialRepo struct {
	mu     sync.RWMutex
	byUser map[string]*model.TrialUse
}

func newMemTrialRepo() *memTrialRepo {
	return &memTrialRepo{byUser: make(map[string]*model.TrialUse)}
}

func (m *memTrialRepo) Insert(_ context.Context, _ repository.Tx, t *model.TrialUse) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUser[t.UserID]; ok {
		return false, nil
	}
	cp := *t
	m.byUser[t.UserID] = &cp
	return true, nil
}

func (m *memTrialRepo) FindByUser(_ context.Context, _ repository.Tx, userID string) (*model.TrialUse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byUser[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTrialRepo) DeleteByRequest(_ context.Context, _ repository.Tx, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uid, t := range m.byUser {
		if t.RequestID == requestID {
			delete(m.byUser, uid)
			return nil
		}
	}
	return domain.ErrNotFound
}

type memCatalogRepo struct {
	mu     sync.RWMutex
	models map[string]*model.Model // by ID
	prices []*model.ModelPrice
}

func newMemCatalogRepo() *memCatalogRepo {
	return &memCatalogRepo{models: make(map[string]*model.Model)}
}

func (m *memCatalogRepo) Save(_ context.Context, _ repository.Tx, mo *model.Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *mo
	m.models[mo.ID] = &cp
	return nil
}

func (m *memCatalogRepo) FindActiveByID(_ context.Context, _ repository.Tx, id string) (*model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mo, ok := m.models[id]
	if !ok || !mo.IsActive {
		return nil, domain.ErrModelNotFound
	}
	cp := *mo
	return &cp, nil
}

func (m *memCatalogRepo) FindActiveByKey(_ context.Context, _ repository.Tx, key string) (*model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, mo := range m.models {
		if mo.Key == key && mo.IsActive {
			cp := *mo
			return &cp, nil
		}
	}
	return nil, domain.ErrModelNotFound
}

func (m *memCatalogRepo) ListActive(context.Context, repository.Tx) ([]*model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Model
	for _, mo := range m.models {
		if mo.IsActive {
			cp := *mo
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memCatalogRepo) LatestActivePrice(_ context.Context, _ repository.Tx, modelID string) (*model.ModelPrice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.ModelPrice
	for _, p := range m.prices {
		if p.ModelID == modelID && p.IsActive {
			if best == nil || p.CreatedAt.After(best.CreatedAt) {
				best = p
			}
		}
	}
	if best == nil {
		return nil, domain.ErrPriceNotFound
	}
	cp := *best
	return &cp, nil
}

func (m *memCatalogRepo) SavePrice(_ context.Context, _ repository.Tx, p *model.ModelPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.prices = append(m.prices, &cp)
	return nil
}

type memBroadcastRepo struct {
	mu         sync.RWMutex
	store      map[string]*model.Broadcast
	recipients []*model.BroadcastRecipient
}

func newMemBroadcastRepo() *memBroadcastRepo {
	return &memBroadcastRepo{store: make(map[string]*model.Broadcast)}
}

func (m *memBroadcastRepo) Save(_ context.Context, _ repository.Tx, b *model.Broadcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *b
	if old, ok := m.store[b.ID]; ok {
		// counters are only ever moved by IncrementCounter
		cp.SentCount = old.SentCount
		cp.FailedCount = old.FailedCount
		cp.BlockedCount = old.BlockedCount
	}
	m.store[b.ID] = &cp
	return nil
}

func (m *memBroadcastRepo) FindByID(_ context.Context, _ repository.Tx, id string) (*model.Broadcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memBroadcastRepo) List(_ context.Context, _ repository.Tx, limit int) ([]*model.Broadcast, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Broadcast
	for _, b := range m.store {
		cp := *b
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memBroadcastRepo) IncrementCounter(_ context.Context, _ repository.Tx, id string, status model.RecipientStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	switch status {
	case model.RecipientSent:
		b.SentCount++
	case model.RecipientFailed:
		b.FailedCount++
	case model.RecipientBlocked:
		b.BlockedCount++
	default:
		return domain.ErrInvalidArgument
	}
	return nil
}

func (m *memBroadcastRepo) MarkCompleted(_ context.Context, _ repository.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.Status != model.BroadcastStatusRunning {
		return false, nil
	}
	now := time.Now().UTC()
	b.Status = model.BroadcastStatusCompleted
	b.CompletedAt = &now
	return true, nil
}

func (m *memBroadcastRepo) SaveRecipient(_ context.Context, _ repository.Tx, r *model.BroadcastRecipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.recipients = append(m.recipients, &cp)
	return nil
}

func (m *memBroadcastRepo) ListRecipients(_ context.Context, _ repository.Tx, broadcastID string, _ int) ([]*model.BroadcastRecipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.BroadcastRecipient
	for _, r := range m.recipients {
		if r.BroadcastID == broadcastID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// mockBot records everything sent through it. Errors can be scripted per
// recipient to exercise the blocked/failed accounting paths.
type mockBot struct {
	mu       sync.Mutex
	messages []string
	photos   []string
	edits    []string
	deleted  []int
	sentTo   []int64
	errFor   map[int64]error
}

func newMockBot() *mockBot { return &mockBot{errFor: make(map[int64]error)} }

func (b *mockBot) record(tgID int64, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.errFor[tgID]; ok {
		return err
	}
	b.sentTo = append(b.sentTo, tgID)
	b.messages = append(b.messages, text)
	return nil
}

func (b *mockBot) SendMessage(_ context.Context, tgID int64, text string) error {
	return b.record(tgID, text)
}

func (b *mockBot) SendMessageWithButton(_ context.Context, tgID int64, text string, _ *adapter.InlineButton) error {
	return b.record(tgID, text)
}

func (b *mockBot) SendPhoto(_ context.Context, tgID int64, url, caption string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.errFor[tgID]; ok {
		return err
	}
	b.photos = append(b.photos, url)
	if caption != "" {
		b.messages = append(b.messages, caption)
	}
	return nil
}

func (b *mockBot) SendDocument(_ context.Context, tgID int64, _, caption string) error {
	return b.record(tgID, caption)
}

func (b *mockBot) SendVideo(_ context.Context, tgID int64, _, caption string) error {
	return b.record(tgID, caption)
}

func (b *mockBot) SendAnimation(_ context.Context, tgID int64, _, caption string) error {
	return b.record(tgID, caption)
}

func (b *mockBot) SendMedia(_ context.Context, tgID int64, _ model.BroadcastContentType, _, caption string, _ *adapter.InlineButton) error {
	return b.record(tgID, caption)
}

func (b *mockBot) EditMessageText(_ context.Context, tgID int64, _ int, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.errFor[tgID]; ok {
		return err
	}
	b.edits = append(b.edits, text)
	return nil
}

func (b *mockBot) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, messageID)
	return nil
}

func (b *mockBot) messageCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// mockDispatcher resolves every model key to the scripted submit function.
type mockDispatcher struct {
	provider  string
	submitFn  adapter.SubmitFunc
	noRoute   bool
	submitted []adapter.SubmitInput
	mu        sync.Mutex
}

func newMockDispatcher(jobID string, outputs []string) *mockDispatcher {
	d := &mockDispatcher{provider: "test-provider"}
	d.submitFn = func(_ context.Context, in adapter.SubmitInput) (*adapter.Submission, error) {
		d.mu.Lock()
		d.submitted = append(d.submitted, in)
		d.mu.Unlock()
		return &adapter.Submission{JobID: jobID, Outputs: outputs}, nil
	}
	return d
}

func (d *mockDispatcher) Resolve(string, model.GenerationMode) (string, adapter.SubmitFunc, bool) {
	if d.noRoute {
		return "", nil, false
	}
	return d.provider, d.submitFn, true
}

// mockProviderClient serves scripted predictions in order, repeating the last.
type mockProviderClient struct {
	mu          sync.Mutex
	predictions []*adapter.Prediction
	predErr     error
	balance     float64
	balanceErr  error
	calls       int
}

func (c *mockProviderClient) GetPrediction(context.Context, string) (*adapter.Prediction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.predErr != nil {
		return nil, c.predErr
	}
	if len(c.predictions) == 0 {
		return &adapter.Prediction{Status: "running"}, nil
	}
	p := c.predictions[0]
	if len(c.predictions) > 1 {
		c.predictions = c.predictions[1:]
	}
	return p, nil
}

func (c *mockProviderClient) Balance(context.Context) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.balanceErr != nil {
		return 0, c.balanceErr
	}
	return c.balance, nil
}

type memBalanceCache struct {
	mu  sync.Mutex
	val float64
	ok  bool
}

func (c *memBalanceCache) Get(context.Context) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.val, c.ok, nil
}

func (c *memBalanceCache) Set(_ context.Context, v float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.val, c.ok = v, true
	return nil
}

type memLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemLocker() *memLocker { return &memLocker{held: make(map[string]bool)} }

func (l *memLocker) AcquireOnce(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

type openGate struct{}

func (openGate) Check(context.Context) error { return nil }

// recordingSpawner captures poller handoffs instead of running them.
type recordingSpawner struct {
	mu  sync.Mutex
	ids []string
}

func (s *recordingSpawner) Spawn(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, requestID)
}

func (s *recordingSpawner) spawned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

type noThrottle struct{}

func (noThrottle) Wait(context.Context) error { return nil }

// Package memstore keeps every store in process memory. It backs the API when
// no database is configured and the service tests.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/farxc/tramitacao/internal/apperr"
	"github.com/farxc/tramitacao/internal/budget"
	"github.com/farxc/tramitacao/internal/execution"
	"github.com/farxc/tramitacao/internal/history"
	"github.com/farxc/tramitacao/internal/process"
	"github.com/farxc/tramitacao/internal/workflow"
)

type data struct {
	records map[string]process.Record
	history []history.Entry
	tasks   []workflow.SigningTask
	wizard  map[string]execution.State
	seqs    map[string]int64
	plans   map[int]budget.PlanConfig
	items   map[string]budget.DotacaoItem
	lastSeq int64
}

func (d *data) clone() *data {
	cp := &data{
		records: maps.Clone(d.records),
		history: slices.Clone(d.history),
		tasks:   slices.Clone(d.tasks),
		wizard:  make(map[string]execution.State, len(d.wizard)),
		seqs:    maps.Clone(d.seqs),
		plans:   maps.Clone(d.plans),
		items:   maps.Clone(d.items),
		lastSeq: d.lastSeq,
	}
	for k, v := range d.wizard {
		cp.wizard[k] = *v.Clone()
	}
	return cp
}

var (
	_ workflow.Repository  = (*Store)(nil)
	_ execution.Repository = (*Store)(nil)
	_ budget.Store         = (*Store)(nil)
	_ history.Reader       = (*Store)(nil)
)

type Store struct {
	mu       sync.Mutex
	d        *data
	failures map[string]error
}

func New() *Store {
	return &Store{
		d: &data{
			records: map[string]process.Record{},
			wizard:  map[string]execution.State{},
			seqs:    map[string]int64{},
			plans:   map[int]budget.PlanConfig{},
			items:   map[string]budget.DotacaoItem{},
		},
		failures: map[string]error{},
	}
}

// FailNext makes the next call to op return err. Used to exercise rollbacks.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *Store) injected(op string) error {
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*process.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetRecord"); err != nil {
		return nil, err
	}
	r, ok := s.d.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, apperr.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.injected(op)
}

func (s *Store) ListRecords(ctx context.Context, f workflow.RecordFilter) ([]process.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListRecords"); err != nil {
		return nil, err
	}
	var out []process.Record
	for _, r := range s.d.records {
		if f.Destination != "" && r.Destination != f.Destination {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Protocol < out[j].Protocol
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListPendingTasks(ctx context.Context, dest process.Destination) ([]workflow.SigningTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListPendingTasks"); err != nil {
		return nil, err
	}
	var out []workflow.SigningTask
	for _, t := range s.d.tasks {
		if t.Status == workflow.TaskPending && (dest == "" || t.Destination == dest) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Tasks returns every task of a record, signed or not.
func (s *Store) Tasks(recordID string) []workflow.SigningTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []workflow.SigningTask
	for _, t := range s.d.tasks {
		if t.RecordID == recordID {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) GetWizardState(ctx context.Context, recordID string) (*execution.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "GetWizardState"); err != nil {
		return nil, err
	}
	st, ok := s.d.wizard[recordID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return st.Clone(), nil
}

func (s *Store) next(key string) int64 {
	s.d.seqs[key]++
	return s.d.seqs[key]
}

func (s *Store) NextProtocolSeq(ctx context.Context, prefix string, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "NextProtocolSeq"); err != nil {
		return 0, err
	}
	return s.next(fmt.Sprintf("%s-%d", prefix, year)), nil
}

func (s *Store) NextPortariaSeq(ctx context.Context, year int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "NextPortariaSeq"); err != nil {
		return 0, err
	}
	return s.next(fmt.Sprintf("PORTARIA-SF-%d", year)), nil
}

func (s *Store) ListHistory(ctx context.Context, recordID string, afterSeq int64, limit int) ([]history.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "ListHistory"); err != nil {
		return nil, err
	}
	var out []history.Entry
	for _, e := range s.d.history {
		if e.RecordID != recordID || e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Transact runs fn against the live data and puts the previous snapshot back
// if fn fails.
func (s *Store) Transact(ctx context.Context, fn func(tx workflow.Tx) error) error {
	return s.transact(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) TransactExecution(ctx context.Context, fn func(tx execution.Tx) error) error {
	return s.transact(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) transact(ctx context.Context, fn func(t *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx, "Transact"); err != nil {
		return err
	}
	snapshot := s.d.clone()
	if err := fn(&tx{s: s}); err != nil {
		s.d = snapshot
		return err
	}
	return nil
}

// tx runs with the store lock already held.
type tx struct {
	s *Store
}

func (t *tx) InsertRecord(ctx context.Context, r *process.Record) error {
	if err := t.s.check(ctx, "InsertRecord"); err != nil {
		return err
	}
	if _, ok := t.s.d.records[r.ID]; ok {
		return fmt.Errorf("record %s already exists", r.ID)
	}
	t.s.d.records[r.ID] = *r
	return nil
}

func (t *tx) UpdateRecord(ctx context.Context, r *process.Record) error {
	if err := t.s.check(ctx, "UpdateRecord"); err != nil {
		return err
	}
	cur, ok := t.s.d.records[r.ID]
	if !ok {
		return fmt.Errorf("record %s: %w", r.ID, apperr.ErrNotFound)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("record %s at version %d, expected %d: %w", r.ID, cur.Version, r.Version, apperr.ErrConflict)
	}
	next := *r
	next.Version++
	t.s.d.records[r.ID] = next
	return nil
}

func (t *tx) AppendHistory(ctx context.Context, e *history.Entry) error {
	if err := t.s.check(ctx, "AppendHistory"); err != nil {
		return err
	}
	t.s.d.lastSeq++
	e.Seq = t.s.d.lastSeq
	t.s.d.history = append(t.s.d.history, *e)
	return nil
}

func (t *tx) InsertTasks(ctx context.Context, tasks []workflow.SigningTask) error {
	if err := t.s.check(ctx, "InsertTasks"); err != nil {
		return err
	}
	// a document already waiting for signature is not queued twice
	for _, task := range tasks {
		dup := slices.ContainsFunc(t.s.d.tasks, func(x workflow.SigningTask) bool {
			return x.RecordID == task.RecordID && x.DocumentType == task.DocumentType && x.Status == workflow.TaskPending
		})
		if !dup {
			t.s.d.tasks = append(t.s.d.tasks, task)
		}
	}
	return nil
}

func (t *tx) SignPendingTasks(ctx context.Context, recordID, actor string, at time.Time) (int, error) {
	if err := t.s.check(ctx, "SignPendingTasks"); err != nil {
		return 0, err
	}
	var n int
	for i := range t.s.d.tasks {
		task := &t.s.d.tasks[i]
		if task.RecordID != recordID || task.Status != workflow.TaskPending {
			continue
		}
		signer, when := actor, at
		task.Status = workflow.TaskSigned
		task.SignedBy = &signer
		task.SignedAt = &when
		n++
	}
	return n, nil
}

func (t *tx) SaveWizardState(ctx context.Context, st *execution.State) error {
	if err := t.s.check(ctx, "SaveWizardState"); err != nil {
		return err
	}
	cur, ok := t.s.d.wizard[st.RecordID]
	switch {
	case !ok && st.Version != 0, ok && cur.Version != st.Version:
		return fmt.Errorf("execution state %s: %w", st.RecordID, apperr.ErrConflict)
	}
	next := *st.Clone()
	next.Version++
	t.s.d.wizard[st.RecordID] = next
	return nil
}

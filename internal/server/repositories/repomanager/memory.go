package repomanager

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/bagqueue/internal/common"
	"github.com/dmitrijs2005/bagqueue/internal/server/models"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/actions"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/catalog"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/files"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/topics"
)

type memoryState struct {
	mu        sync.Mutex
	files     map[string]models.File
	sessions  map[string]models.UploadSession
	topics    map[string]models.Topic
	actions   map[string]models.Action
	missions  map[string]struct{}
	templates map[string]bool
}

type memorySnapshot struct {
	files    map[string]models.File
	sessions map[string]models.UploadSession
	topics   map[string]models.Topic
	actions  map[string]models.Action
}

func (s *memoryState) snapshot() memorySnapshot {
	return memorySnapshot{
		files:    maps.Clone(s.files),
		sessions: maps.Clone(s.sessions),
		topics:   maps.Clone(s.topics),
		actions:  maps.Clone(s.actions),
	}
}

func (s *memoryState) restore(snap memorySnapshot) {
	s.files = snap.files
	s.sessions = snap.sessions
	s.topics = snap.topics
	s.actions = snap.actions
}

// MemoryRepositoryManager keeps everything in process memory. Every call
// holds one global lock and WithTx holds it for the whole callback, so
// transactions are serializable and roll back by restoring a snapshot.
// It is intended for tests and single-node development.
type MemoryRepositoryManager struct {
	st   *memoryState
	inTx bool
}

func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{st: &memoryState{
		files:     map[string]models.File{},
		sessions:  map[string]models.UploadSession{},
		topics:    map[string]models.Topic{},
		actions:   map[string]models.Action{},
		missions:  map[string]struct{}{},
		templates: map[string]bool{},
	}}
}

func (m *MemoryRepositoryManager) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.st.mu.Lock()
	return m.st.mu.Unlock
}

// AddMission registers a mission in the catalog.
func (m *MemoryRepositoryManager) AddMission(id string) {
	defer m.lock()()
	m.st.missions[id] = struct{}{}
}

// AddTemplate registers an action template in the catalog.
func (m *MemoryRepositoryManager) AddTemplate(id string, archived bool) {
	defer m.lock()()
	m.st.templates[id] = archived
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *MemoryRepositoryManager) Files() files.Repository       { return memFiles{m} }
func (m *MemoryRepositoryManager) Sessions() sessions.Repository { return memSessions{m} }
func (m *MemoryRepositoryManager) Topics() topics.Repository     { return memTopics{m} }
func (m *MemoryRepositoryManager) Actions() actions.Repository   { return memActions{m} }
func (m *MemoryRepositoryManager) Catalog() catalog.Repository   { return memCatalog{m} }

func (m *MemoryRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, rm RepositoryManager) error) (err error) {
	if m.inTx {
		return fn(ctx, m)
	}
	m.st.mu.Lock()
	defer m.st.mu.Unlock()

	snap := m.st.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.st.restore(snap)
			panic(p)
		}
		if err != nil {
			m.st.restore(snap)
		}
	}()
	return fn(ctx, &MemoryRepositoryManager{st: m.st, inTx: true})
}

// files

type memFiles struct{ m *MemoryRepositoryManager }

func (r memFiles) Create(_ context.Context, f *models.File) error {
	defer r.m.lock()()
	if _, ok := r.m.st.files[f.ID]; ok {
		return fmt.Errorf("db error: duplicate file %s", f.ID)
	}
	row := *f
	row.UpdatedAt = f.CreatedAt
	r.m.st.files[f.ID] = row
	return nil
}

func (r memFiles) Get(_ context.Context, id string) (*models.File, error) {
	defer r.m.lock()()
	f, ok := r.m.st.files[id]
	if !ok || f.DeletedAt != nil {
		return nil, common.ErrorNotFound
	}
	return &f, nil
}

func (r memFiles) GetInMission(ctx context.Context, id, missionID string) (*models.File, error) {
	f, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.MissionID != missionID {
		return nil, common.ErrorNotFound
	}
	return f, nil
}

func (r memFiles) update(id string, guard func(models.File) bool, apply func(*models.File)) error {
	f, ok := r.m.st.files[id]
	if !ok || !guard(f) {
		return common.ErrStaleState
	}
	apply(&f)
	f.UpdatedAt = time.Now()
	r.m.st.files[id] = f
	return nil
}

func (r memFiles) CompareAndSetState(_ context.Context, id string, from, to models.FileState) error {
	if err := models.CheckTransition(from, to); err != nil {
		return err
	}
	forward := to.InProcessing() || to == models.StateCompleted
	defer r.m.lock()()
	return r.update(id,
		func(f models.File) bool { return f.State == from && !(forward && f.CancelRequested) },
		func(f *models.File) { f.State = to })
}

func (r memFiles) MarkUploaded(_ context.Context, id string, size int64, expectedMD5 string) error {
	defer r.m.lock()()
	return r.update(id,
		func(f models.File) bool { return f.State == models.StateAwaitingUpload },
		func(f *models.File) {
			f.State = models.StateAwaitingProcessing
			f.Location = models.LocationWorking
			f.Size = size
			f.ExpectedMD5 = expectedMD5
		})
}

func (r memFiles) ClaimNext(_ context.Context, workerID string, now time.Time) (*models.File, error) {
	defer r.m.lock()()
	var candidates []models.File
	for _, f := range r.m.st.files {
		if f.State == models.StateAwaitingProcessing && f.DeletedAt == nil {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil, common.ErrorNotFound
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	f := candidates[0]
	f.State = models.StateDownloading
	f.WorkerID = workerID
	claimed := now
	f.ClaimedAt = &claimed
	f.UpdatedAt = now
	r.m.st.files[f.ID] = f
	return &f, nil
}

func (r memFiles) Heartbeat(_ context.Context, id, workerID string, now time.Time) error {
	defer r.m.lock()()
	f, ok := r.m.st.files[id]
	if !ok || f.WorkerID != workerID || !f.State.InProcessing() {
		return common.ErrStaleState
	}
	claimed := now
	f.ClaimedAt = &claimed
	r.m.st.files[id] = f
	return nil
}

func (r memFiles) Release(_ context.Context, id string, from models.FileState, workerID string) error {
	if !from.InProcessing() {
		return fmt.Errorf("%w: release from %s", common.ErrInvalidTransition, from)
	}
	defer r.m.lock()()
	return r.update(id,
		func(f models.File) bool { return f.State == from && f.WorkerID == workerID && !f.CancelRequested },
		func(f *models.File) {
			f.State = models.StateAwaitingProcessing
			f.WorkerID = ""
			f.ClaimedAt = nil
		})
}

func (r memFiles) ReapStale(_ context.Context, before time.Time, limit int) ([]*models.File, error) {
	defer r.m.lock()()
	var stale []models.File
	for _, f := range r.m.st.files {
		if f.State.InProcessing() && f.DeletedAt == nil && f.ClaimedAt != nil && f.ClaimedAt.Before(before) {
			stale = append(stale, f)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ClaimedAt.Before(*stale[j].ClaimedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}

	reaped := make([]*models.File, 0, len(stale))
	for _, f := range stale {
		f.State = models.StateAwaitingProcessing
		if f.CancelRequested {
			f.State = models.StateCanceled
		}
		f.WorkerID = ""
		f.ClaimedAt = nil
		f.UpdatedAt = time.Now()
		r.m.st.files[f.ID] = f
		reaped = append(reaped, &f)
	}
	return reaped, nil
}

func (r memFiles) RequestCancel(_ context.Context, id string) error {
	defer r.m.lock()()
	return r.update(id,
		func(f models.File) bool { return f.State.InProcessing() },
		func(f *models.File) { f.CancelRequested = true })
}

func (r memFiles) CancelRequested(_ context.Context, id string) (bool, error) {
	defer r.m.lock()()
	f, ok := r.m.st.files[id]
	if !ok {
		return false, common.ErrorNotFound
	}
	return f.CancelRequested, nil
}

func (r memFiles) SetChecksum(_ context.Context, id, md5 string) error {
	defer r.m.lock()()
	return r.update(id,
		func(models.File) bool { return true },
		func(f *models.File) { f.MD5 = md5 })
}

func (r memFiles) CompareAndSetLocation(_ context.Context, id string, from, to models.FileLocation) error {
	defer r.m.lock()()
	return r.update(id,
		func(f models.File) bool { return f.Location == from },
		func(f *models.File) { f.Location = to })
}

// sessions

type memSessions struct{ m *MemoryRepositoryManager }

func (r memSessions) Create(_ context.Context, s *models.UploadSession) error {
	defer r.m.lock()()
	if _, ok := r.m.st.files[s.FileID]; !ok {
		return fmt.Errorf("db error: session references unknown file %s", s.FileID)
	}
	r.m.st.sessions[s.FileID] = *s
	return nil
}

func (r memSessions) Get(_ context.Context, fileID string) (*models.UploadSession, error) {
	defer r.m.lock()()
	s, ok := r.m.st.sessions[fileID]
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	return &s, nil
}

func (r memSessions) Delete(_ context.Context, fileID string) error {
	defer r.m.lock()()
	delete(r.m.st.sessions, fileID)
	return nil
}

func (r memSessions) ListExpired(_ context.Context, before time.Time, limit int) ([]*models.UploadSession, error) {
	defer r.m.lock()()
	var result []*models.UploadSession
	for _, s := range r.m.st.sessions {
		if s.ExpiresAt.Before(before) {
			s := s
			result = append(result, &s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ExpiresAt.Before(result[j].ExpiresAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// topics

type memTopics struct{ m *MemoryRepositoryManager }

func (r memTopics) Create(_ context.Context, t *models.Topic) error {
	defer r.m.lock()()
	for _, existing := range r.m.st.topics {
		if existing.FileID == t.FileID && existing.Name == t.Name {
			return fmt.Errorf("db error: duplicate topic %q for file %s", t.Name, t.FileID)
		}
	}
	r.m.st.topics[t.ID] = *t
	return nil
}

func (r memTopics) DeleteByFile(_ context.Context, fileID string) error {
	defer r.m.lock()()
	for id, t := range r.m.st.topics {
		if t.FileID == fileID {
			delete(r.m.st.topics, id)
		}
	}
	return nil
}

func (r memTopics) ListByFile(_ context.Context, fileID string) ([]*models.Topic, error) {
	defer r.m.lock()()
	var result []*models.Topic
	for _, t := range r.m.st.topics {
		if t.FileID == fileID {
			t := t
			result = append(result, &t)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// actions

type memActions struct{ m *MemoryRepositoryManager }

func (r memActions) Create(_ context.Context, a *models.Action) error {
	defer r.m.lock()()
	if _, ok := r.m.st.actions[a.ID]; ok {
		return fmt.Errorf("db error: duplicate action %s", a.ID)
	}
	row := *a
	row.UpdatedAt = a.CreatedAt
	r.m.st.actions[a.ID] = row
	return nil
}

func (r memActions) Get(_ context.Context, id string) (*models.Action, error) {
	defer r.m.lock()()
	a, ok := r.m.st.actions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &a, nil
}

func (r memActions) CompareAndSetState(_ context.Context, id string, from, to models.ActionState, message string) error {
	if err := models.CheckActionTransition(from, to); err != nil {
		return err
	}
	defer r.m.lock()()
	a, ok := r.m.st.actions[id]
	if !ok || a.State != from {
		return common.ErrStaleState
	}
	a.State = to
	a.Message = message
	a.UpdatedAt = time.Now()
	r.m.st.actions[id] = a
	return nil
}

func (r memActions) ClaimNext(_ context.Context, workerID string) (*models.Action, error) {
	defer r.m.lock()()
	var next *models.Action
	for _, a := range r.m.st.actions {
		if a.State != models.ActionPending {
			continue
		}
		if next == nil || a.CreatedAt.Before(next.CreatedAt) ||
			(a.CreatedAt.Equal(next.CreatedAt) && a.ID < next.ID) {
			a := a
			next = &a
		}
	}
	if next == nil {
		return nil, common.ErrorNotFound
	}
	now := time.Now()
	next.State = models.ActionStarting
	next.WorkerID = workerID
	next.ClaimedAt = &now
	next.UpdatedAt = now
	r.m.st.actions[next.ID] = *next
	return next, nil
}

func (r memActions) RequestStop(_ context.Context, id string) error {
	defer r.m.lock()()
	a, ok := r.m.st.actions[id]
	if !ok || a.State.IsTerminal() {
		return common.ErrStaleState
	}
	a.CancelRequested = true
	a.UpdatedAt = time.Now()
	r.m.st.actions[id] = a
	return nil
}

func (r memActions) Heartbeat(_ context.Context, id, workerID string, now time.Time) error {
	defer r.m.lock()()
	a, ok := r.m.st.actions[id]
	if !ok || a.WorkerID != workerID || (a.State != models.ActionStarting && a.State != models.ActionProcessing) {
		return common.ErrStaleState
	}
	claimed := now
	a.ClaimedAt = &claimed
	r.m.st.actions[id] = a
	return nil
}

func (r memActions) Release(_ context.Context, id, workerID string) error {
	defer r.m.lock()()
	a, ok := r.m.st.actions[id]
	if !ok || a.WorkerID != workerID || a.State != models.ActionStarting || a.CancelRequested {
		return common.ErrStaleState
	}
	a.State = models.ActionPending
	a.WorkerID = ""
	a.ClaimedAt = nil
	a.UpdatedAt = time.Now()
	r.m.st.actions[id] = a
	return nil
}

func (r memActions) ReapStale(_ context.Context, before time.Time, limit int) ([]*models.Action, error) {
	defer r.m.lock()()
	var stale []models.Action
	for _, a := range r.m.st.actions {
		if (a.State == models.ActionStarting || a.State == models.ActionProcessing) &&
			a.ClaimedAt != nil && a.ClaimedAt.Before(before) {
			stale = append(stale, a)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ClaimedAt.Before(*stale[j].ClaimedAt) })
	if len(stale) > limit {
		stale = stale[:limit]
	}

	reaped := make([]*models.Action, 0, len(stale))
	for _, a := range stale {
		switch {
		case a.State == models.ActionStarting && !a.CancelRequested:
			a.State, a.Message = models.ActionPending, ""
		case a.CancelRequested:
			a.State, a.Message = models.ActionFailed, models.ActionStoppedMessage
		default:
			a.State, a.Message = models.ActionFailed, models.ActionLostMessage
		}
		a.WorkerID = ""
		a.ClaimedAt = nil
		a.UpdatedAt = time.Now()
		r.m.st.actions[a.ID] = a
		reaped = append(reaped, &a)
	}
	return reaped, nil
}

// catalog

type memCatalog struct{ m *MemoryRepositoryManager }

func (r memCatalog) MissionExists(_ context.Context, missionID string) (bool, error) {
	defer r.m.lock()()
	_, ok := r.m.st.missions[missionID]
	return ok, nil
}

func (r memCatalog) Compatible(ctx context.Context, missionID, templateID string) error {
	ok, _ := r.MissionExists(ctx, missionID)
	if !ok {
		return fmt.Errorf("%w: mission %s does not exist", common.ErrIncompatible, missionID)
	}
	defer r.m.lock()()
	archived, ok := r.m.st.templates[templateID]
	if !ok {
		return fmt.Errorf("%w: template %s does not exist", common.ErrIncompatible, templateID)
	}
	if archived {
		return fmt.Errorf("%w: template %s is archived", common.ErrIncompatible, templateID)
	}
	return nil
}

var _ RepositoryManager = (*MemoryRepositoryManager)(nil)

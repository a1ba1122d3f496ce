package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"continuity/internal/domain"
	"continuity/internal/lock"
	"continuity/internal/providers/sora"
)

type memLedger struct {
	mu             sync.Mutex
	rows           map[string]domain.Job
	inserts        int
	statusUpdates  int
	commits        int
	beforeComplete func(id string)
	getErr         error
}

func newMemLedger() *memLedger {
	return &memLedger{rows: map[string]domain.Job{}}
}

func (l *memLedger) Insert(ctx context.Context, job *domain.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.rows[job.ID]; ok {
		return fmt.Errorf("duplicate job %s", job.ID)
	}
	l.inserts++
	l.rows[job.ID] = *job
	return nil
}

func (l *memLedger) Get(ctx context.Context, id string) (*domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.getErr != nil {
		return nil, l.getErr
	}
	job, ok := l.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &job, nil
}

func (l *memLedger) UpdateStatus(ctx context.Context, id string, status domain.JobStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.rows[id]
	if !ok || job.OutputURL != "" {
		return nil
	}
	l.statusUpdates++
	job.Status = status
	l.rows[id] = job
	return nil
}

func (l *memLedger) CompleteOnce(ctx context.Context, id, url string) (string, bool, error) {
	if l.beforeComplete != nil {
		l.beforeComplete(id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	job, ok := l.rows[id]
	if !ok {
		return "", false, domain.ErrNotFound
	}
	if job.OutputURL != "" {
		return job.OutputURL, false, nil
	}
	l.commits++
	job.OutputURL = url
	job.Status = domain.JobStatusCompleted
	l.rows[id] = job
	return url, true, nil
}

func (l *memLedger) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.Job
	for _, job := range l.rows {
		if job.OutputURL == "" && job.Status != domain.JobStatusFailed {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// row returns a snapshot copy of the stored job.
func (l *memLedger) row(id string) *domain.Job {
	l.mu.Lock()
	defer l.mu.Unlock()
	j := l.rows[id]
	return &j
}

type fakeGenerator struct {
	mu          sync.Mutex
	credentials bool
	nextID      int
	status      map[string]domain.JobStatus
	content     []byte
	submitErr   error
	statusErr   error
	contentErr  error
	submitted   []sora.CreateRequest

	submits   atomic.Int32
	polls     atomic.Int32
	downloads atomic.Int32
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{credentials: true, status: map[string]domain.JobStatus{}, content: []byte("raw-video")}
}

func (g *fakeGenerator) HasCredentials() bool { return g.credentials }

func (g *fakeGenerator) Submit(ctx context.Context, req sora.CreateRequest) (*sora.Video, error) {
	g.submits.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.submitted = append(g.submitted, req)
	if g.submitErr != nil {
		return nil, g.submitErr
	}
	g.nextID++
	id := fmt.Sprintf("video_%d", g.nextID)
	g.status[id] = domain.JobStatusQueued
	return &sora.Video{ID: id, Status: domain.JobStatusQueued}, nil
}

func (g *fakeGenerator) FetchStatus(ctx context.Context, id string) (*sora.Video, error) {
	g.polls.Add(1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	status, ok := g.status[id]
	if !ok {
		return nil, domain.Upstream(domain.StagePoll, 404, []byte(`{"error":{"message":"not found"}}`))
	}
	return &sora.Video{ID: id, Status: status}, nil
}

func (g *fakeGenerator) FetchContentTo(ctx context.Context, id string, w io.Writer) (int64, error) {
	g.downloads.Add(1)
	g.mu.Lock()
	content, err := g.content, g.contentErr
	g.mu.Unlock()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(content)
	return int64(n), err
}

func (g *fakeGenerator) set(id string, status domain.JobStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[id] = status
}

// fakeTransform writes "marked:" followed by the input bytes.
type fakeTransform struct {
	calls   atomic.Int32
	err     error
	block   chan struct{}
	started chan struct{}
	inputs  []string
	mu      sync.Mutex
}

func (f *fakeTransform) Apply(ctx context.Context, in, out string) error {
	f.calls.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	err := f.err
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if err != nil {
		return err
	}
	data, rerr := os.ReadFile(in)
	if rerr != nil {
		return rerr
	}
	return os.WriteFile(out, append([]byte("marked:"), data...), 0o644)
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	puts    atomic.Int32
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStore) Backend() string { return "fake" }

func (s *fakeStore) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	s.puts.Add(1)
	if s.err != nil {
		return s.err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.types[key] = contentType
	return nil
}

func (s *fakeStore) PublicURL(key string) string {
	return "https://cdn.test/" + key
}

func (s *fakeStore) object(key string) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.objects[key]
}

type fakeEntitlements struct {
	mu       sync.Mutex
	entitled map[string]bool
	calls    int
	err      error
}

func (e *fakeEntitlements) IsEntitled(ctx context.Context, identity string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return false, e.err
	}
	if identity == "" {
		return false, nil
	}
	return e.entitled[identity], nil
}

func (e *fakeEntitlements) set(identity string, entitled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entitled[identity] = entitled
}

type heldFlight struct{}

func (heldFlight) Do(ctx context.Context, key string, fn lock.Func) (any, bool, error) {
	return nil, false, lock.ErrHeld
}

var errBoom = errors.New("boom")

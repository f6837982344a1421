package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kgraph-backend/internal/domain"
	"kgraph-backend/internal/extraction"
)

type fakeQueue struct {
	mu          sync.Mutex
	jobs        map[string]domain.Job
	cancelFlags map[string]bool
}

func newFakeQueue(jobs...domain.Job) *fakeQueue {
	q := &fakeQueue{jobs: map[string]domain.Job{}, cancelFlags: map[string]bool{}}
	for _, j := range jobs {
		q.jobs[j.ID] = j
	}
	return q
}

func (q *fakeQueue) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.Job
	for _, j := range q.jobs {
		if j.State == filter.State {
			out = append(out, j)
		}
	}
	return out, nil
}

func (q *fakeQueue) Get(ctx context.Context, id string) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.jobs[id], nil
}

func (q *fakeQueue) UpdateState(ctx context.Context, id string, to domain.JobState) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs[id]
	j.State = to
	q.jobs[id] = j
	return j, nil
}

func (q *fakeQueue) UpdateProgress(ctx context.Context, id string, progress domain.Progress) (domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.jobs[id]
	j.Progress = progress
	q.jobs[id] = j
	return j, nil
}

func (q *fakeQueue) CancelRequested(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelFlags[id]
}

func (q *fakeQueue) ClearCancelFlag(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancelFlags, id)
}

type fakeLoader struct{}

func (fakeLoader) Load(ctx context.Context, ref domain.PayloadRef) (domain.Source, error) {
	return domain.Source{ID: "src1", FullText: "one two three"}, nil
}

type fakeWorker struct {
	chunks int
}

func (f fakeWorker) Execute(ctx context.Context, text string, source domain.Source, ontology string, startIndex int, shouldCancel func() bool, onChunk func(extraction.ChunkResult)) error {
	for i := 0; i < f.chunks; i++ {
		onChunk(extraction.ChunkResult{ChunkIndex: i})
	}
	return nil
}

func TestSchedulerCompletesApprovedJob(t *testing.T) {
	job := domain.Job{ID: "job1", State: domain.JobApproved, CreatedAt: time.Now(), Progress: domain.Progress{ChunksTotal: 3}}
	queue := newFakeQueue(job)
	s := New(queue, fakeLoader{}, fakeWorker{chunks: 3}, 1, nil)

	sub := s.Subscribe("job1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx, 10*time.Millisecond)

	var finalSeen bool
	for ev := range sub {
		if ev.Final {
			finalSeen = true
			assert.Equal(t, domain.JobCompleted, ev.FinalState)
		}
	}
	assert.True(t, finalSeen)

	final, err := queue.Get(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, final.State)
}

type fakeLifecyclePublisher struct {
	mu     sync.Mutex
	states []domain.JobState
}

func (f *fakeLifecyclePublisher) Publish(ctx context.Context, jobID, ontology string, state domain.JobState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
	return nil
}

func TestSchedulerPublishesLifecycleEvents(t *testing.T) {
	job := domain.Job{ID: "job1", Ontology: "onto1", State: domain.JobApproved, CreatedAt: time.Now(), Progress: domain.Progress{ChunksTotal: 1}}
	queue := newFakeQueue(job)
	s := New(queue, fakeLoader{}, fakeWorker{chunks: 1}, 1, nil)
	publisher := &fakeLifecyclePublisher{}
	s.SetLifecyclePublisher(publisher)

	sub := s.Subscribe("job1")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.Run(ctx, 10*time.Millisecond)

	for ev := range sub {
		if ev.Final {
			break
		}
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Contains(t, publisher.states, domain.JobProcessing)
	assert.Contains(t, publisher.states, domain.JobCompleted)
}

func TestSchedulerRespectsDropOldestOnOverflow(t *testing.T) {
	s := New(newFakeQueue(), fakeLoader{}, fakeWorker{}, 1, nil)
	ch := s.Subscribe("jobX")
	for i := 0; i < SubscriberBufferSize+10; i++ {
		s.publish(ProgressEvent{JobID: "jobX", ChunksDone: i})
	}
	assert.LessOrEqual(t, len(ch), SubscriberBufferSize)
}

package integration

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/gomega"

	"waitnotify-go/internal/api"
	"waitnotify-go/internal/callback"
	"waitnotify-go/internal/cleanup"
	"waitnotify-go/internal/config"
	"waitnotify-go/internal/domain"
	"waitnotify-go/internal/engine"
	"waitnotify-go/internal/events"
	"waitnotify-go/internal/listener"
	lockmem "waitnotify-go/internal/lock/memory"
	"waitnotify-go/internal/notifier"
	"waitnotify-go/internal/queue"
	memoryqueue "waitnotify-go/internal/queue/memory"
	storemem "waitnotify-go/internal/store/memory"
)

const recordName = "record"

// call is one callback invocation seen by a recorder.
type call struct {
	Path      string
	Responses domain.Responses
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) add(path string, responses domain.Responses) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{Path: path, Responses: responses})
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *recorder) last() call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[len(r.calls)-1]
}

type recordArgs struct {
	Name  string `json:"name"`
	Panic bool   `json:"panic"`
}

// recorders hands out one recorder per callback name.
type recorders struct {
	mu     sync.Mutex
	byName map[string]*recorder
}

func (rs *recorders) get(name string) *recorder {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.byName == nil {
		rs.byName = make(map[string]*recorder)
	}
	r, ok := rs.byName[name]
	if !ok {
		r = &recorder{}
		rs.byName[name] = r
	}
	return r
}

func (rs *recorders) factory(raw json.RawMessage) (callback.Callback, error) {
	var args recordArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	r := rs.get(args.Name)
	handle := func(path string) func(context.Context, domain.Responses) error {
		return func(ctx context.Context, responses domain.Responses) error {
			r.add(path, responses)
			if args.Panic {
				panic("callback bug")
			}
			return nil
		}
	}
	return callback.Funcs{Complete: handle("complete"), Error: handle("error")}, nil
}

// droppingProducer loses every message while drop is set.
type droppingProducer struct {
	queue.Producer
	drop atomic.Bool
}

func (p *droppingProducer) Publish(ctx context.Context, msg *queue.Message) error {
	if p.drop.Load() {
		return nil
	}
	return p.Producer.Publish(ctx, msg)
}

// harness is the full in-memory stack.
type harness struct {
	store     *storemem.Store
	queue     *memoryqueue.Queue
	dropping  *droppingProducer
	engine    *engine.Service
	notifier  *notifier.Service
	reaper    *cleanup.Service
	server    *api.Server
	recorders *recorders

	listener *listener.Service
	cancel   context.CancelFunc
	done     chan struct{}
}

func newHarness() *harness {
	return newHarnessWithBuffer(1000)
}

func newHarnessWithBuffer(bufferSize int) *harness {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	st := storemem.NewStore()
	q := memoryqueue.NewQueue(bufferSize)
	dropping := &droppingProducer{Producer: q}
	locker := lockmem.NewLocker()
	recs := &recorders{}

	registry := callback.NewRegistry()
	eng := engine.NewService(st.Repositories(), events.NewPublisher(dropping), registry, time.Hour, logger)
	registry.MustRegister(recordName, recs.factory)
	registry.MustRegister(callback.RelayName, callback.NewRelayFactory(eng))

	h := &harness{
		store:     st,
		queue:     q,
		dropping:  dropping,
		engine:    eng,
		notifier:  notifier.NewService(st.Repositories(), locker, events.NewPublisher(q), config.NotifierConfig{}, logger),
		reaper:    cleanup.NewService(st.Repositories(), config.CleanupConfig{}, logger),
		recorders: recs,
		listener: listener.NewService(q, st.Repositories(), locker, registry, config.ListenerConfig{
			LockLease:             time.Minute,
			PartialWarnEvery:      100,
			PartialErrorThreshold: 1000,
		}, logger),
		done: make(chan struct{}),
	}
	h.server = api.NewServer(api.ServerDeps{
		Config:            &config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Logger:            logger,
		WaitHandler:       api.NewWaitHandler(eng, logger),
		ResponseHandler:   api.NewResponseHandler(eng, logger),
		DisableRequestLog: true,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.listener.Start(ctx)
	}()

	return h
}

func (h *harness) stop() {
	h.cancel()
	Expect(h.listener.Stop()).To(Succeed())
	Eventually(h.done).Should(BeClosed(), "listener did not stop")
}

func record(name string) domain.CallbackSpec {
	args, _ := json.Marshal(recordArgs{Name: name})
	return domain.CallbackSpec{Name: recordName, Args: args}
}

func panicking(name string) domain.CallbackSpec {
	args, _ := json.Marshal(recordArgs{Name: name, Panic: true})
	return domain.CallbackSpec{Name: recordName, Args: args}
}

func relay(correlationID string) domain.CallbackSpec {
	args, _ := json.Marshal(callback.RelayArgs{CorrelationID: correlationID})
	return domain.CallbackSpec{Name: callback.RelayName, Args: args}
}

func (h *harness) status(id string) func() domain.WaitStatus {
	return func() domain.WaitStatus {
		instance, err := h.store.WaitInstances.GetByID(context.Background(), id)
		if err != nil {
			return ""
		}
		return instance.Status
	}
}

func (h *harness) outstanding(id string) func() int {
	return func() int {
		rows, err := h.store.WaitQueue.ListByWaitInstance(context.Background(), id)
		Expect(err).NotTo(HaveOccurred())
		return len(rows)
	}
}

func payload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	Expect(err).NotTo(HaveOccurred())
	return data
}

package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"flagplane/internal/model"
	"flagplane/internal/repository"
	v1 "flagplane/pkg/api/v1"
	"flagplane/pkg/constraints"
	"flagplane/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func init() {
	logger.InitLogger("test")
}

type recordingSink struct {
	mu     sync.Mutex
	events []v1.StreamEvent
}

func (r *recordingSink) Publish(ev v1.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) snapshot() []v1.StreamEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]v1.StreamEvent(nil), r.events...)
}

// failingStore wraps a MemoryStore and fails AppendAudit inside units of work.
type failingStore struct {
	*repository.MemoryStore
	auditErr error
}

func (f *failingStore) Atomic(ctx context.Context, fn func(tx repository.Tx) error) error {
	return f.MemoryStore.Atomic(ctx, func(tx repository.Tx) error {
		return fn(&failingTx{Tx: tx, auditErr: f.auditErr})
	})
}

type failingTx struct {
	repository.Tx
	auditErr error
}

func (t *failingTx) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	if t.auditErr != nil {
		return t.auditErr
	}
	return t.Tx.AppendAudit(ctx, entry)
}

// conflictStore reports a lost race on the first n commits.
type conflictStore struct {
	*repository.MemoryStore
	mu        sync.Mutex
	conflicts int
}

func (c *conflictStore) Atomic(ctx context.Context, fn func(tx repository.Tx) error) error {
	c.mu.Lock()
	if c.conflicts > 0 {
		c.conflicts--
		c.mu.Unlock()
		return repository.ErrConflict
	}
	c.mu.Unlock()
	return c.MemoryStore.Atomic(ctx, fn)
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveWrite(outcome string, _ float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func newTestService(t *testing.T, opts ...Option) (*FeatureService, *repository.MemoryStore, *recordingSink) {
	t.Helper()
	store := repository.NewMemoryStore()
	sink := &recordingSink{}
	return NewFeatureService(store, sink, opts...), store, sink
}

func write(ns, env, key, typ, value, op string) WriteInput {
	return WriteInput{Namespace: ns, Env: env, Key: key, Type: typ, Value: value, Operator: op}
}

func TestWrite_CreateUpdateRollback(t *testing.T) {
	ctx := context.Background()
	svc, _, sink := newTestService(t)

	rec, entry, err := svc.Write(ctx, write("default", "dev", "checkout.new_flow", constraints.TypeBool, "false", "alice"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, constraints.ActionCreate, entry.Action)
	assert.Empty(t, entry.OldValue)
	assert.Equal(t, "false", entry.NewValue)
	assert.Equal(t, int64(1), entry.ResultingVersion)
	createID := entry.ID

	rec, entry, err = svc.Write(ctx, write("default", "dev", "checkout.new_flow", constraints.TypeBool, "true", "bob"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)
	assert.Equal(t, "bob", rec.UpdatedBy)
	assert.Equal(t, constraints.ActionUpdate, entry.Action)
	assert.Equal(t, "false", entry.OldValue)
	assert.Equal(t, "true", entry.NewValue)

	rec, entry, err = svc.Rollback(ctx, RollbackInput{
		Namespace: "default", Env: "dev", Key: "checkout.new_flow", AuditID: createID, Operator: "carol",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Version)
	assert.Equal(t, "false", rec.Value)
	assert.Equal(t, constraints.ActionUpdate, entry.Action)
	assert.Equal(t, "true", entry.OldValue)
	assert.Equal(t, createID, entry.RollbackOf)

	history, err := svc.History(ctx, "default", "dev", "checkout.new_flow")
	require.NoError(t, err)
	require.Len(t, history, 3)
	for i, want := range []int64{3, 2, 1} {
		assert.Equal(t, want, history[i].ResultingVersion)
	}

	events := sink.snapshot()
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Version)
	}
	assert.Equal(t, "false", events[2].Value)
	assert.Equal(t, constraints.ActionCreate, events[0].Type)
}

func TestRollback_TwiceYieldsTwoVersions(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, first, err := svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "a", "op"))
	require.NoError(t, err)
	_, _, err = svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "b", "op"))
	require.NoError(t, err)

	in := RollbackInput{Namespace: "default", Env: "dev", Key: "k", AuditID: first.ID, Operator: "op"}
	r1, _, err := svc.Rollback(ctx, in)
	require.NoError(t, err)
	r2, _, err := svc.Rollback(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(3), r1.Version)
	assert.Equal(t, int64(4), r2.Version)
	assert.Equal(t, r1.Value, r2.Value)

	history, err := svc.History(ctx, "default", "dev", "k")
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestRollback_NotFound(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, entry, err := svc.Write(ctx, write("default", "dev", "a", constraints.TypeString, "x", "op"))
	require.NoError(t, err)
	_, _, err = svc.Write(ctx, write("default", "dev", "b", constraints.TypeString, "y", "op"))
	require.NoError(t, err)

	tests := []struct {
		name string
		in   RollbackInput
	}{
		{"unknown id", RollbackInput{Namespace: "default", Env: "dev", Key: "a", AuditID: 999}},
		{"other key", RollbackInput{Namespace: "default", Env: "dev", Key: "b", AuditID: entry.ID}},
		{"other env", RollbackInput{Namespace: "default", Env: "prod", Key: "a", AuditID: entry.ID}},
		{"other namespace", RollbackInput{Namespace: "payments", Env: "dev", Key: "a", AuditID: entry.ID}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Rollback(ctx, tt.in)
			require.ErrorIs(t, err, ErrNotFound)
		})
	}

	history, err := svc.History(ctx, "default", "dev", "b")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestWrite_Validation(t *testing.T) {
	ctx := context.Background()
	svc, store, sink := newTestService(t)

	tests := []struct {
		name string
		in   WriteInput
	}{
		{"bool yes", write("default", "dev", "k", constraints.TypeBool, "yes", "op")},
		{"bool upper", write("default", "dev", "k", constraints.TypeBool, "TRUE", "op")},
		{"number", write("default", "dev", "k", constraints.TypeNumber, "abc", "op")},
		{"number nan", write("default", "dev", "k", constraints.TypeNumber, "NaN", "op")},
		{"number inf", write("default", "dev", "k", constraints.TypeNumber, "Inf", "op")},
		{"number hex", write("default", "dev", "k", constraints.TypeNumber, "0x1p-2", "op")},
		{"number underscore", write("default", "dev", "k", constraints.TypeNumber, "1_000", "op")},
		{"number padded", write("default", "dev", "k", constraints.TypeNumber, " 1", "op")},
		{"number quoted", write("default", "dev", "k", constraints.TypeNumber, `"1"`, "op")},
		{"number overflow", write("default", "dev", "k", constraints.TypeNumber, "1e400", "op")},
		{"number empty", write("default", "dev", "k", constraints.TypeNumber, "", "op")},
		{"number leading plus", write("default", "dev", "k", constraints.TypeNumber, "+1", "op")},
		{"json", write("default", "dev", "k", constraints.TypeJSON, "{", "op")},
		{"strategy json", write("default", "dev", "k", constraints.TypeStrategy, "{", "op")},
		{"strategy range", write("default", "dev", "k", constraints.TypeStrategy, `{"percentage":101}`, "op")},
		{"strategy negative", write("default", "dev", "k", constraints.TypeStrategy, `{"percentage":-1}`, "op")},
		{"unknown type", write("default", "dev", "k", "yaml", "a: b", "op")},
		{"empty key", write("default", "dev", "", constraints.TypeString, "x", "op")},
		{"bad key", write("default", "dev", "a..b", constraints.TypeString, "x", "op")},
		{"empty env", write("default", "", "k", constraints.TypeString, "x", "op")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Write(ctx, tt.in)
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	flags, err := store.ListFlags(ctx, repository.FlagQuery{Namespace: "default", Env: "dev"})
	require.NoError(t, err)
	assert.Empty(t, flags)
	assert.Empty(t, sink.snapshot())
}

func TestWrite_ValidValues(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for i, in := range []WriteInput{
		write("default", "dev", "b", constraints.TypeBool, "true", "op"),
		write("default", "dev", "n", constraints.TypeNumber, "-1.5e3", "op"),
		write("default", "dev", "n0", constraints.TypeNumber, "0", "op"),
		write("default", "dev", "n1", constraints.TypeNumber, "12345678901234567890", "op"),
		write("default", "dev", "j", constraints.TypeJSON, `{"a":[1,2]}`, "op"),
		write("default", "dev", "s", constraints.TypeString, "", "op"),
		write("default", "dev", "st", constraints.TypeStrategy, `{"whitelist":["u1"],"percentage":0}`, "op"),
		write("default", "dev", "st2", constraints.TypeStrategy, `{}`, "op"),
	} {
		_, _, err := svc.Write(ctx, in)
		require.NoError(t, err, "case %d", i)
	}
}

func TestWrite_TypeImmutable(t *testing.T) {
	ctx := context.Background()
	svc, store, sink := newTestService(t)

	_, _, err := svc.Write(ctx, write("default", "dev", "k", constraints.TypeBool, "true", "op"))
	require.NoError(t, err)

	_, _, err = svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "true", "op"))
	require.ErrorIs(t, err, ErrTypeImmutable)

	rec, err := store.GetFlag(ctx, "default", "dev", "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, constraints.TypeBool, rec.Type)
	assert.Len(t, sink.snapshot(), 1)
}

func TestWrite_TypeChangeWinsOverBadValue(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	_, _, err := svc.Write(ctx, write("default", "dev", "foo.bar", constraints.TypeBool, "true", "op"))
	require.NoError(t, err)

	tests := []struct {
		name string
		typ  string
		val  string
	}{
		{"number with garbage", constraints.TypeNumber, "abc"},
		{"json with garbage", constraints.TypeJSON, "{"},
		{"strategy out of range", constraints.TypeStrategy, `{"percentage":400}`},
		{"unknown type", "yaml", "a: b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := svc.Write(ctx, write("default", "dev", "foo.bar", tt.typ, tt.val, "op"))
			require.ErrorIs(t, err, ErrTypeImmutable)
			assert.NotErrorIs(t, err, ErrValidation)
		})
	}

	rec, err := store.GetFlag(ctx, "default", "dev", "foo.bar")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	// same type, bad value is still a validation error
	_, _, err = svc.Write(ctx, write("default", "dev", "foo.bar", constraints.TypeBool, "maybe", "op"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestWrite_LatencyIndependentOfSubscribers(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}
	if runtime.GOMAXPROCS(0) < 2 {
		t.Skip("needs a spare CPU for the hub dispatchers")
	}
	ctx := context.Background()
	const writes = 50

	perWrite := func(subscribers int) time.Duration {
		// large enough that no subscriber overflows during the run
		hub := NewHub(writes+1, 0, &MockObserver{})
		t.Cleanup(hub.Close)
		for range subscribers {
			_, err := hub.Subscribe(Filter{Env: "dev"})
			require.NoError(t, err)
		}
		svc := NewFeatureService(repository.NewMemoryStore(), hub)

		start := time.Now()
		for i := range writes {
			_, _, err := svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, fmt.Sprint(i), "op"))
			require.NoError(t, err)
		}
		elapsed := time.Since(start) / writes
		hub.drain()
		require.Equal(t, subscribers, hub.Online())
		return elapsed
	}

	idle := perWrite(0)
	busy := perWrite(50000)
	t.Logf("per write: %v idle, %v with 50000 subscribers", idle, busy)
	assert.Less(t, busy, 10*idle+2*time.Millisecond)
}

func TestWrite_AtomicOnAuditFailure(t *testing.T) {
	ctx := context.Background()
	mem := repository.NewMemoryStore()
	store := &failingStore{MemoryStore: mem}
	sink := &recordingSink{}
	svc := NewFeatureService(store, sink)

	_, _, err := svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "v1", "op"))
	require.NoError(t, err)

	store.auditErr = errors.New("disk full")
	_, _, err = svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "v2", "op"))
	require.ErrorIs(t, err, ErrTransientStore)

	rec, err := mem.GetFlag(ctx, "default", "dev", "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", rec.Value)
	assert.Equal(t, int64(1), rec.Version)

	audits, err := mem.ListAudits(ctx, "default", "dev", "k")
	require.NoError(t, err)
	assert.Len(t, audits, 1)
	assert.Len(t, sink.snapshot(), 1)
}

func TestWrite_ExpectedVersion(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	zero := int64(0)
	in := write("default", "dev", "k", constraints.TypeString, "a", "op")
	in.ExpectedVersion = &zero
	_, _, err := svc.Write(ctx, in)
	require.NoError(t, err)

	// creating again with "must not exist" fails
	_, _, err = svc.Write(ctx, in)
	require.ErrorIs(t, err, ErrVersionConflict)

	one := int64(1)
	in.Value = "b"
	in.ExpectedVersion = &one
	rec, _, err := svc.Write(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Version)

	_, _, err = svc.Write(ctx, in)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestWrite_RetriesLostRace(t *testing.T) {
	ctx := context.Background()
	store := &conflictStore{MemoryStore: repository.NewMemoryStore(), conflicts: maxWriteAttempts - 1}
	svc := NewFeatureService(store, nil)

	rec, _, err := svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "a", "op"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Version)

	store.conflicts = maxWriteAttempts
	_, _, err = svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "b", "op"))
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestWrite_ConcurrentSameKeyIsGapless(t *testing.T) {
	ctx := context.Background()
	svc, store, sink := newTestService(t)

	const writers = 16
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, _, err := svc.Write(ctx, write("default", "dev", "hot.key", constraints.TypeNumber, fmt.Sprint(w*1000+i), "op"))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	rec, err := store.GetFlag(ctx, "default", "dev", "hot.key")
	require.NoError(t, err)
	assert.Equal(t, int64(writers*perWriter), rec.Version)

	audits, err := store.ListAudits(ctx, "default", "dev", "hot.key")
	require.NoError(t, err)
	require.Len(t, audits, writers*perWriter)
	for i, a := range audits {
		assert.Equal(t, int64(writers*perWriter-i), a.ResultingVersion)
	}
	// every update's old value is the previous entry's new value
	for i := 0; i < len(audits)-1; i++ {
		assert.Equal(t, audits[i+1].NewValue, audits[i].OldValue)
	}

	events := sink.snapshot()
	require.Len(t, events, writers*perWriter)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Version)
	}
	assert.Zero(t, svc.locks.size())
}

func TestWrite_DifferentKeysIndependent(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	var wg sync.WaitGroup
	for k := 0; k < 20; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_, _, err := svc.Write(ctx, write("default", "dev", fmt.Sprintf("key.%02d", k), constraints.TypeString, fmt.Sprint(i), "op"))
				assert.NoError(t, err)
			}
		}(k)
	}
	wg.Wait()

	flags, err := store.ListFlags(ctx, repository.FlagQuery{Namespace: "default", Env: "dev"})
	require.NoError(t, err)
	require.Len(t, flags, 20)
	for _, f := range flags {
		assert.Equal(t, int64(10), f.Version)
	}
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, err := svc.Get(ctx, "default", "dev", "missing")
	require.ErrorIs(t, err, ErrNotFound)

	for _, k := range []string{"b.z", "a.y", "a.b.c"} {
		_, _, err := svc.Write(ctx, write("default", "dev", k, constraints.TypeString, k, "op"))
		require.NoError(t, err)
	}
	_, _, err = svc.Write(ctx, write("default", "prod", "a.y", constraints.TypeString, "prod", "op"))
	require.NoError(t, err)

	rec, err := svc.Get(ctx, "default", "prod", "a.y")
	require.NoError(t, err)
	assert.Equal(t, "prod", rec.Value)

	flags, err := svc.List(ctx, "default", "dev", ListOptions{})
	require.NoError(t, err)
	got := make([]string, 0, len(flags))
	for _, f := range flags {
		got = append(got, f.Key)
	}
	assert.Equal(t, []string{"a.b.c", "a.y", "b.z"}, got)

	page, err := svc.List(ctx, "default", "dev", ListOptions{After: "a.b.c", Limit: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a.y", page[0].Key)
}

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	_, _, err := svc.Write(ctx, write("default", "dev", "rollout", constraints.TypeStrategy, `{"whitelist":["vip"],"percentage":0}`, "op"))
	require.NoError(t, err)
	_, _, err = svc.Write(ctx, write("default", "dev", "kill", constraints.TypeBool, "true", "op"))
	require.NoError(t, err)
	_, _, err = svc.Write(ctx, write("default", "dev", "name", constraints.TypeString, "x", "op"))
	require.NoError(t, err)

	on, rec, err := svc.Evaluate(ctx, "default", "dev", "rollout", "vip")
	require.NoError(t, err)
	assert.True(t, on)
	assert.Equal(t, int64(1), rec.Version)

	on, _, err = svc.Evaluate(ctx, "default", "dev", "rollout", "someone")
	require.NoError(t, err)
	assert.False(t, on)

	on, _, err = svc.Evaluate(ctx, "default", "dev", "kill", "anyone")
	require.NoError(t, err)
	assert.True(t, on)

	_, _, err = svc.Evaluate(ctx, "default", "dev", "name", "anyone")
	require.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.Evaluate(ctx, "default", "dev", "missing", "anyone")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotFilters(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	for _, in := range []WriteInput{
		write("default", "dev", "a", constraints.TypeString, "1", "op"),
		write("payments", "dev", "b", constraints.TypeString, "2", "op"),
		write("default", "prod", "c", constraints.TypeString, "3", "op"),
	} {
		_, _, err := svc.Write(ctx, in)
		require.NoError(t, err)
	}

	all, err := svc.Snapshot(ctx, Filter{Env: "dev"})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	payments, err := svc.Snapshot(ctx, Filter{Env: "dev", Namespaces: []string{"payments"}})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, "b", payments[0].Key)
}

func TestWrite_OutboxAndObserver(t *testing.T) {
	ctx := context.Background()
	pub := newFakePublisher()
	notifier := &countingNotifier{}
	obs := &recordingObserver{}
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc, store, _ := newTestService(t, WithOutbox(pub, notifier), WithStoreObserver(obs), WithClock(func() time.Time { return fixed }))

	rec, _, err := svc.Write(ctx, write("default", "dev", "k", constraints.TypeString, "a", "op"))
	require.NoError(t, err)
	assert.Equal(t, fixed, rec.UpdatedAt)
	_, _, err = svc.Write(ctx, write("default", "dev", "k", constraints.TypeBool, "true", "op"))
	require.ErrorIs(t, err, ErrTypeImmutable)

	tasks, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "/flagplane/dev/default/features/k", tasks[0].Key)
	assert.Equal(t, int64(1), tasks[0].Version)
	assert.Equal(t, 1, notifier.count())
	assert.Equal(t, []string{"ok", "invalid"}, obs.outcomes)
}

func TestWrite_LongestIdentityFitsOutbox(t *testing.T) {
	ctx := context.Background()
	prefix := "/" + strings.Repeat("p", constraints.MaxEtcdPrefixLen-2) + "/"
	pub := repository.NewPublisher(nil, prefix)
	svc, store, _ := newTestService(t, WithOutbox(pub, nil))

	ns := strings.Repeat("n", constraints.MaxNamespaceLen)
	env := strings.Repeat("e", constraints.MaxEnvLen)
	key := strings.Repeat("k", constraints.MaxKeyLen)
	_, _, err := svc.Write(ctx, write(ns, env, key, constraints.TypeString, "v", "op"))
	require.NoError(t, err)

	tasks, err := store.FetchPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, prefix+env+"/"+ns+"/features/"+key, tasks[0].Key)

	sch, err := schema.Parse(&model.OutboxTask{}, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(tasks[0].Key), sch.LookUpField("key").Size)

	_, _, err = svc.Write(ctx, write(ns, env, key+"k", constraints.TypeString, "v", "op"))
	require.ErrorIs(t, err, ErrValidation)
}

func TestHealth(t *testing.T) {
	pub := newFakePublisher()
	svc, _, _ := newTestService(t, WithOutbox(pub, nil))
	require.NoError(t, svc.Health(context.Background()))

	pub.healthErr = errors.New("down")
	require.ErrorIs(t, svc.Health(context.Background()), ErrEtcdUnhealthy)
}

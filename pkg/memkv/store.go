// Package memkv is a sharded, thread-safe in-memory key/value store with
// per-key TTL, a background expirer and lock-free metrics.
package memkv

import (
    "container/heap"
    "sort"
    "strings"
    "sync"
    "sync/atomic"
    "time"
)

type Options struct {
    Shards   int    // number of shards (default 64)
    MaxBytes uint64 // hard cap on the total size of values (0 = unlimited)
}

func (o Options) withDefaults() Options {
    if o.Shards <= 0 { o.Shards = 64 }
    return o
}

type Store struct {
    opts    Options
    shards  []shard
    expq    expQueue
    wake    chan struct{}
    closeCh chan struct{}
    once    sync.Once
    wg      sync.WaitGroup

    nowFn func() time.Time

    mKeys    atomic.Uint64
    mBytes   atomic.Uint64
    mSets    atomic.Uint64
    mGets    atomic.Uint64
    mHits    atomic.Uint64
    mMisses  atomic.Uint64
    mDels    atomic.Uint64
    mExpired atomic.Uint64
    mUpdates atomic.Uint64
}

type shard struct {
    mu sync.RWMutex
    m  map[string]*entry
}

type entry struct {
    val      []byte
    expireAt int64 // unix nano; 0 = no expiry
}

func (e *entry) expired(now int64) bool { return e.expireAt != 0 && e.expireAt <= now }

func New(opts Options) *Store {
    opts = opts.withDefaults()
    s := &Store{
        opts:    opts,
        shards:  make([]shard, opts.Shards),
        wake:    make(chan struct{}, 1),
        closeCh: make(chan struct{}),
        nowFn:   time.Now,
    }
    for i := range s.shards {
        s.shards[i].m = make(map[string]*entry)
    }
    s.wg.Add(1)
    go s.expirer()
    return s
}

// Close stops the expirer. The store stays readable.
func (s *Store) Close() {
    s.once.Do(func() { close(s.closeCh) })
    s.wg.Wait()
}

func (s *Store) shardFor(key string) *shard {
    // FNV-1a 64
    var h uint64 = 1469598103934665603
    for i := 0; i < len(key); i++ {
        h ^= uint64(key[i])
        h *= 1099511628211
    }
    return &s.shards[int(h%uint64(len(s.shards)))]
}

func (s *Store) tryAddBytes(delta uint64) bool {
    if s.opts.MaxBytes == 0 {
        s.mBytes.Add(delta)
        return true
    }
    for {
        cur := s.mBytes.Load()
        if cur+delta > s.opts.MaxBytes { return false }
        if s.mBytes.CompareAndSwap(cur, cur+delta) { return true }
    }
}

func (s *Store) subBytes(n int) {
    if n <= 0 { return }
    s.mBytes.Add(^uint64(n - 1))
}

// dropLocked removes key from sh; caller holds sh.mu.
func (s *Store) dropLocked(sh *shard, key string, e *entry, expired bool) {
    delete(sh.m, key)
    s.mKeys.Add(^uint64(0))
    s.subBytes(len(e.val))
    if expired { s.mExpired.Add(1) } else { s.mDels.Add(1) }
}

// Set stores a copy of val. It reports false when MaxBytes would be exceeded.
func (s *Store) Set(key string, val []byte, ttl time.Duration) bool {
    now := s.nowFn()
    var expAt int64
    if ttl > 0 { expAt = now.Add(ttl).UnixNano() }
    v := append([]byte(nil), val...)

    sh := s.shardFor(key)
    sh.mu.Lock()
    prev, existed := sh.m[key]
    oldLen := 0
    if existed { oldLen = len(prev.val) }
    delta := len(v) - oldLen
    if delta > 0 && !s.tryAddBytes(uint64(delta)) {
        sh.mu.Unlock()
        return false
    }
    sh.m[key] = &entry{val: v, expireAt: expAt}
    if !existed { s.mKeys.Add(1) }
    if delta < 0 { s.subBytes(-delta) }
    s.mSets.Add(1)
    sh.mu.Unlock()

    if expAt != 0 { s.enqueueExpire(key, expAt) }
    return true
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(key string) ([]byte, bool) {
    s.mGets.Add(1)
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    var out []byte
    live := ok && !e.expired(s.nowFn().UnixNano())
    if live { out = append([]byte(nil), e.val...) }
    sh.mu.RUnlock()
    if !live {
        if ok { s.reap(key) }
        s.mMisses.Add(1)
        return nil, false
    }
    s.mHits.Add(1)
    return out, true
}

// reap lazily removes key if it is still expired.
func (s *Store) reap(key string) {
    sh := s.shardFor(key)
    sh.mu.Lock()
    if e, ok := sh.m[key]; ok && e.expired(s.nowFn().UnixNano()) {
        s.dropLocked(sh, key, e, true)
    }
    sh.mu.Unlock()
}

// GetDel atomically returns and removes key.
func (s *Store) GetDel(key string) ([]byte, bool) {
    s.mGets.Add(1)
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok {
        s.mMisses.Add(1)
        return nil, false
    }
    if e.expired(s.nowFn().UnixNano()) {
        s.dropLocked(sh, key, e, true)
        s.mMisses.Add(1)
        return nil, false
    }
    s.dropLocked(sh, key, e, false)
    s.mHits.Add(1)
    return e.val, true
}

// Update replaces the value of a live key with fn(old). The TTL is kept.
func (s *Store) Update(key string, fn func(old []byte) []byte) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok { return false }
    if e.expired(s.nowFn().UnixNano()) {
        s.dropLocked(sh, key, e, true)
        return false
    }
    nv := append([]byte(nil), fn(append([]byte(nil), e.val...))...)
    delta := len(nv) - len(e.val)
    if delta > 0 && !s.tryAddBytes(uint64(delta)) { return false }
    if delta < 0 { s.subBytes(-delta) }
    e.val = nv
    s.mUpdates.Add(1)
    return true
}

func (s *Store) Exists(key string) bool {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    live := ok && !e.expired(s.nowFn().UnixNano())
    sh.mu.RUnlock()
    return live
}

func (s *Store) Delete(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok { s.dropLocked(sh, key, e, false) }
    sh.mu.Unlock()
    return ok
}

// Expire sets a new TTL. ttl <= 0 deletes the key.
func (s *Store) Expire(key string, ttl time.Duration) bool {
    if ttl <= 0 { return s.Delete(key) }
    now := s.nowFn()
    exp := now.Add(ttl).UnixNano()
    sh := s.shardFor(key)
    sh.mu.Lock()
    e, ok := sh.m[key]
    if ok && e.expired(now.UnixNano()) {
        s.dropLocked(sh, key, e, true)
        ok = false
    }
    if ok { e.expireAt = exp }
    sh.mu.Unlock()
    if ok { s.enqueueExpire(key, exp) }
    return ok
}

// Persist clears the TTL of key.
func (s *Store) Persist(key string) bool {
    sh := s.shardFor(key)
    sh.mu.Lock()
    defer sh.mu.Unlock()
    e, ok := sh.m[key]
    if !ok || e.expired(s.nowFn().UnixNano()) { return false }
    e.expireAt = 0
    return true
}

// TTL returns the remaining lifetime. A key without TTL yields (0, true).
func (s *Store) TTL(key string) (time.Duration, bool) {
    sh := s.shardFor(key)
    sh.mu.RLock()
    e, ok := sh.m[key]
    var exp int64
    if ok { exp = e.expireAt }
    sh.mu.RUnlock()
    if !ok { return 0, false }
    if exp == 0 { return 0, true }
    now := s.nowFn().UnixNano()
    if exp <= now {
        s.reap(key)
        return 0, false
    }
    return time.Duration(exp - now), true
}

// Keys returns the sorted live keys starting with prefix.
func (s *Store) Keys(prefix string) []string {
    now := s.nowFn().UnixNano()
    var out []string
    for i := range s.shards {
        sh := &s.shards[i]
        sh.mu.RLock()
        for k, e := range sh.m {
            if strings.HasPrefix(k, prefix) && !e.expired(now) { out = append(out, k) }
        }
        sh.mu.RUnlock()
    }
    sort.Strings(out)
    return out
}

// Stats is a point-in-time copy of the store counters.
type Stats struct {
    Keys    uint64
    Bytes   uint64
    Sets    uint64
    Gets    uint64
    Hits    uint64
    Misses  uint64
    Dels    uint64
    Expired uint64
    Updates uint64
}

func (s *Store) Metrics() Stats {
    return Stats{
        Keys:    s.mKeys.Load(),
        Bytes:   s.mBytes.Load(),
        Sets:    s.mSets.Load(),
        Gets:    s.mGets.Load(),
        Hits:    s.mHits.Load(),
        Misses:  s.mMisses.Load(),
        Dels:    s.mDels.Load(),
        Expired: s.mExpired.Load(),
        Updates: s.mUpdates.Load(),
    }
}

// ---- expiry queue ----

type expItem struct {
    when int64
    key  string
}

type expQueue struct {
    mu    sync.Mutex
    items []expItem
}

func (q *expQueue) Len() int           { return len(q.items) }
func (q *expQueue) Less(i, j int) bool { return q.items[i].when < q.items[j].when }
func (q *expQueue) Swap(i, j int)      { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *expQueue) Push(x any)         { q.items = append(q.items, x.(expItem)) }
func (q *expQueue) Pop() any {
    n := len(q.items)
    it := q.items[n-1]
    q.items = q.items[:n-1]
    return it
}

func (s *Store) enqueueExpire(key string, when int64) {
    s.expq.mu.Lock()
    heap.Push(&s.expq, expItem{when: when, key: key})
    s.expq.mu.Unlock()
    select {
    case s.wake <- struct{}{}:
    default:
    }
}

// expirer sleeps until the earliest deadline; enqueueExpire wakes it so a
// newly added, earlier deadline is never missed.
func (s *Store) expirer() {
    defer s.wg.Done()
    timer := time.NewTimer(time.Hour)
    timer.Stop()
    for {
        s.expq.mu.Lock()
        var wait time.Duration = -1
        var due []expItem
        now := s.nowFn().UnixNano()
        for s.expq.Len() > 0 {
            head := s.expq.items[0]
            if head.when > now {
                wait = time.Duration(head.when - now)
                break
            }
            due = append(due, heap.Pop(&s.expq).(expItem))
        }
        s.expq.mu.Unlock()

        for _, it := range due { s.reap(it.key) }

        var tc <-chan time.Time
        if wait >= 0 {
            timer.Reset(wait)
            tc = timer.C
        }
        select {
        case <-s.closeCh:
            timer.Stop()
            return
        case <-s.wake:
        case <-tc:
        }
        if tc != nil && !timer.Stop() {
            select {
            case <-timer.C:
            default:
            }
        }
    }
}

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeClient is an in-memory stand-in for the Redis commands the engine
// issues, so the loop, sweep, and producer can be exercised without a server.
type fakeClient struct {
	mu sync.Mutex

	streams map[string][]redis.XMessage
	groups  map[string]map[string]int // stream -> group -> next undelivered index
	pending map[string][]pendingEntry // stream|group -> delivered, unacked

	nextSeq    int64
	closeCalls int

	// Per-command error injection.
	groupErr error
	xaddErr  error
	readErrs []error // consumed one per XReadGroup call
	lastAdd  *redis.XAddArgs
}

type pendingEntry struct {
	msg      redis.XMessage
	consumer string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		streams: make(map[string][]redis.XMessage),
		groups:  make(map[string]map[string]int),
		pending: make(map[string][]pendingEntry),
	}
}

func pendingKey(stream, group string) string { return stream + "|" + group }

func (f *fakeClient) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.xaddErr != nil {
		cmd.SetErr(f.xaddErr)
		return cmd
	}
	f.lastAdd = a
	f.nextSeq++
	id := fmt.Sprintf("%d-0", f.nextSeq)
	values, _ := a.Values.(map[string]any)
	f.streams[a.Stream] = append(f.streams[a.Stream], redis.XMessage{ID: id, Values: values})
	if a.MaxLen > 0 {
		if extra := int64(len(f.streams[a.Stream])) - a.MaxLen; extra > 0 {
			f.streams[a.Stream] = f.streams[a.Stream][extra:]
		}
	}
	cmd.SetVal(id)
	return cmd
}

func (f *fakeClient) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.groupErr != nil {
		cmd.SetErr(f.groupErr)
		return cmd
	}
	if f.groups[stream] == nil {
		f.groups[stream] = make(map[string]int)
	}
	if _, exists := f.groups[stream][group]; exists {
		cmd.SetErr(errors.New("BUSYGROUP Consumer Group name already exists"))
		return cmd
	}
	pos := 0
	if start == "$" {
		pos = len(f.streams[stream])
	}
	f.groups[stream][group] = pos
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeClient) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)
	stream := a.Streams[0]

	f.mu.Lock()
	if len(f.readErrs) > 0 {
		err := f.readErrs[0]
		f.readErrs = f.readErrs[1:]
		f.mu.Unlock()
		cmd.SetErr(err)
		return cmd
	}
	pos, ok := f.groups[stream][a.Group]
	if !ok {
		f.mu.Unlock()
		cmd.SetErr(errors.New("NOGROUP No such consumer group"))
		return cmd
	}
	entries := f.streams[stream]
	var out []redis.XMessage
	for pos < len(entries) && int64(len(out)) < a.Count {
		msg := entries[pos]
		out = append(out, msg)
		key := pendingKey(stream, a.Group)
		f.pending[key] = append(f.pending[key], pendingEntry{msg: msg, consumer: a.Consumer})
		pos++
	}
	f.groups[stream][a.Group] = pos
	f.mu.Unlock()

	if len(out) == 0 {
		// Stand in for the server-side BLOCK wait, shortened for tests.
		if a.Block > 0 {
			wait := a.Block
			if wait > 10*time.Millisecond {
				wait = 10 * time.Millisecond
			}
			select {
			case <-ctx.Done():
				cmd.SetErr(ctx.Err())
				return cmd
			case <-time.After(wait):
			}
		}
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal([]redis.XStream{{Stream: stream, Messages: out}})
	return cmd
}

func (f *fakeClient) XAutoClaim(ctx context.Context, a *redis.XAutoClaimArgs) *redis.XAutoClaimCmd {
	cmd := redis.NewXAutoClaimCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pendingKey(a.Stream, a.Group)
	var out []redis.XMessage
	for i := range f.pending[key] {
		if int64(len(out)) >= a.Count {
			break
		}
		out = append(out, f.pending[key][i].msg)
		f.pending[key][i].consumer = a.Consumer
	}
	cmd.SetVal(out, "0-0")
	return cmd
}

func (f *fakeClient) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pendingKey(stream, group)
	var acked int64
	for _, id := range ids {
		kept := f.pending[key][:0]
		for _, p := range f.pending[key] {
			if p.msg.ID == id {
				acked++
				continue
			}
			kept = append(kept, p)
		}
		f.pending[key] = kept
	}
	cmd.SetVal(acked)
	return cmd
}

func (f *fakeClient) XLen(ctx context.Context, stream string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd.SetVal(int64(len(f.streams[stream])))
	return cmd
}

func (f *fakeClient) XPending(ctx context.Context, stream, group string) *redis.XPendingCmd {
	cmd := redis.NewXPendingCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pendingKey(stream, group)
	consumers := make(map[string]int64)
	for _, p := range f.pending[key] {
		consumers[p.consumer]++
	}
	cmd.SetVal(&redis.XPending{Count: int64(len(f.pending[key])), Consumers: consumers})
	return cmd
}

func (f *fakeClient) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	return nil
}

// seedPending simulates a crashed consumer: the entry sits in the stream and
// in the group's pending list, delivered but never acknowledged.
func (f *fakeClient) seedPending(stream, group, consumer string, values map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSeq++
	id := fmt.Sprintf("%d-0", f.nextSeq)
	msg := redis.XMessage{ID: id, Values: values}
	f.streams[stream] = append(f.streams[stream], msg)
	if f.groups[stream] == nil {
		f.groups[stream] = make(map[string]int)
	}
	f.groups[stream][group] = len(f.streams[stream])
	f.pending[pendingKey(stream, group)] = append(f.pending[pendingKey(stream, group)], pendingEntry{msg: msg, consumer: consumer})
	return id
}

func (f *fakeClient) pendingCount(stream, group string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[pendingKey(stream, group)])
}

func (f *fakeClient) streamLen(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams[stream])
}

func (f *fakeClient) entry(stream string, i int) redis.XMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[stream][i]
}

func (f *fakeClient) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

var _ Client = (*fakeClient)(nil)

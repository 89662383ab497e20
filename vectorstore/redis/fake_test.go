package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// fakeRedis answers the hash and search commands the store issues, so
// tests run without a Redis Stack server. It is installed as a go-redis
// hook and never forwards to the network.
type fakeRedis struct {
	mu       sync.Mutex
	hashes   map[string]map[string]string
	indexes  map[string][]any
	searches [][]any
	reply    any
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		hashes:  make(map[string]map[string]string),
		indexes: make(map[string][]any),
	}
}

// newFakeStore returns a Store whose client is served by fake.
func newFakeStore(t *testing.T, fake *fakeRedis) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "fake:6379", Protocol: 2})
	client.AddHook(fake)

	s, err := NewWithClient(client, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (f *fakeRedis) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return nil, errors.New("fake redis does not dial")
	}
}

func (f *fakeRedis) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		return f.exec(cmd)
	}
}

func (f *fakeRedis) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, cmd := range cmds {
			if err := f.exec(cmd); err != nil {
				cmd.SetErr(err)
				return err
			}
		}
		return nil
	}
}

func (f *fakeRedis) exec(cmd redis.Cmder) error {
	args := cmd.Args()
	switch cmd.Name() {
	case "multi", "exec":
		return nil
	case "ft.info":
		if _, ok := f.indexes[str(args[1])]; !ok {
			return errors.New("Unknown Index name")
		}
		cmd.(*redis.Cmd).SetVal([]any{})
	case "ft.create":
		f.indexes[str(args[1])] = args
		cmd.(*redis.Cmd).SetVal("OK")
	case "ft.search":
		f.searches = append(f.searches, args)
		cmd.(*redis.Cmd).SetVal(f.reply)
	case "hset":
		fields, ok := f.hashes[str(args[1])]
		if !ok {
			fields = make(map[string]string)
			f.hashes[str(args[1])] = fields
		}
		for i := 2; i+1 < len(args); i += 2 {
			fields[str(args[i])] = str(args[i+1])
		}
		cmd.(*redis.IntCmd).SetVal(int64((len(args) - 2) / 2))
	case "hgetall":
		out := make(map[string]string)
		for k, v := range f.hashes[str(args[1])] {
			out[k] = v
		}
		cmd.(*redis.MapStringStringCmd).SetVal(out)
	case "del":
		var n int64
		for _, key := range args[1:] {
			if _, ok := f.hashes[str(key)]; ok {
				delete(f.hashes, str(key))
				n++
			}
		}
		cmd.(*redis.IntCmd).SetVal(n)
	default:
		return fmt.Errorf("ERR unknown command '%s'", cmd.Name())
	}
	return nil
}

func (f *fakeRedis) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.hashes))
	for k := range f.hashes {
		out = append(out, k)
	}
	return out
}

func str(v any) string {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return fmt.Sprint(v)
}

package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func TestRunScript(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewClientFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer c.Close()

	const script = `return redis.call('incrby', KEYS[1], ARGV[1])`
	if err := c.LoadScriptFromContent("incr", script); err != nil {
		t.Fatal(err)
	}

	got, err := c.RunScript(context.Background(), "incr", []string{"counter"}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := got.(int64); !ok || n != 5 {
		t.Fatalf("RunScript = %v (%T)", got, got)
	}

	if v, _ := mr.Get("counter"); v != "5" {
		t.Fatalf("counter = %q", v)
	}
}

func TestRunScriptUnknown(t *testing.T) {
	mr := miniredis.RunT(t)
	c := NewClientFromRedis(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	defer c.Close()

	if _, err := c.RunScript(context.Background(), "missing", nil); err == nil {
		t.Fatal("expected error for unloaded script")
	}
}

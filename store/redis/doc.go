// Package redis implements store.Store on Redis. Every job is a Hash; the
// claim order lives in lexicographic Sorted Sets whose members encode
// priority, ReadyAt and ID, so taking the next job is a single ZRANGE.
// State transitions run as Lua scripts, which makes each of them atomic
// across every process sharing the server.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
//
// Scripts derive key names from the configured prefix, so a Redis Cluster
// deployment must route every key to one slot (a prefix such as
// "{jobq}:" does that).
package redis

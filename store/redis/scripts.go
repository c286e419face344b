package redis

import (
	redis "github.com/redis/go-redis/v9"
)

// Instants are stored as zero-padded 20-digit unix-nanosecond strings.
// Lua numbers are doubles and cannot hold nanoseconds exactly, so the
// scripts compare these fixed-width strings lexicographically instead.

// Status codes returned by the scripts.
const (
	codeOK        = 0
	codeClamped   = 1
	codeNotFound  = -1
	codeExpired   = -2
	codeExhausted = -3
	codeExists    = -4
)

// KEYS[1] entry hash, KEYS[2] patient index
// ARGV[1] entry id, ARGV[2] expiry score, ARGV[3...] field/value pairs
var createScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return -4
end
redis.call("HSET", KEYS[1], unpack(ARGV, 3))
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 0
`)

// KEYS[1] entry hash
// ARGV[1] patient id, ARGV[2] at, ARGV[3] updated_at
var consumeScript = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "patient_id", "remaining_uses", "expires_at")
if f[1] ~= ARGV[1] then
  return {-1}
end
if ARGV[2] > f[3] then
  return {-2}
end
if tonumber(f[2]) <= 0 then
  return {-3}
end
redis.call("HINCRBY", KEYS[1], "remaining_uses", -1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[3])
return {0, redis.call("HGETALL", KEYS[1])}
`)

// KEYS[1] entry hash
// ARGV[1] patient id, ARGV[2] updated_at
var refundScript = redis.NewScript(`
local f = redis.call("HMGET", KEYS[1], "patient_id", "remaining_uses", "total_uses")
if f[1] ~= ARGV[1] then
  return {-1}
end
if tonumber(f[2]) >= tonumber(f[3]) then
  return {1, redis.call("HGETALL", KEYS[1])}
end
redis.call("HINCRBY", KEYS[1], "remaining_uses", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[2])
return {0, redis.call("HGETALL", KEYS[1])}
`)

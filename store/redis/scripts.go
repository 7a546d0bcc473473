package redis

import goredis "github.com/redis/go-redis/v9"

// Every script receives the key prefix as ARGV[1]. A job appears in the
// rank indexes of its state (global and per queue) and, for delayed,
// active, completed and failed, in the time index of that state.
const prelude = `
local P = ARGV[1]

local function timed(state)
  return state == 'delayed' or state == 'active' or state == 'completed' or state == 'failed'
end

local function unindex(id, state, queue, rank)
  redis.call('ZREM', P .. 'idx:' .. state, rank)
  redis.call('ZREM', P .. 'idx:' .. state .. ':' .. queue, rank)
  if timed(state) then
    redis.call('ZREM', P .. 'time:' .. state, id)
  end
end

local function index(id, state, queue, rank, score)
  redis.call('ZADD', P .. 'idx:' .. state, 0, rank)
  redis.call('ZADD', P .. 'idx:' .. state .. ':' .. queue, 0, rank)
  if timed(state) then
    redis.call('ZADD', P .. 'time:' .. state, score, id)
  end
end

local function remove(id)
  local key = P .. 'job:' .. id
  local cur = redis.call('HMGET', key, 'state', 'queue', 'rank')
  if not cur[1] then
    return 0
  end
  unindex(id, cur[1], cur[2], cur[3])
  redis.call('DEL', key)
  return 1
end
`

// enqueueScript: KEYS[1] job key. ARGV: prefix, id, state, queue, rank,
// score, field/value pairs.
var enqueueScript = goredis.NewScript(prelude + `
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 7))
index(ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6])
return 1
`)

// claimScript: ARGV: prefix, queue, token, worker, now ms, now.
var claimScript = goredis.NewScript(prelude + `
local head = redis.call('ZRANGE', P .. 'idx:waiting:' .. ARGV[2], 0, 0)
if #head == 0 then
  return false
end
local rank = head[1]
local id = string.sub(rank, 23)
local key = P .. 'job:' .. id
unindex(id, 'waiting', ARGV[2], rank)
redis.call('HSET', key, 'state', 'active', 'lock_token', ARGV[3], 'worker_id', ARGV[4],
  'processed_at', ARGV[6], 'heartbeat_at', ARGV[6], 'updated_at', ARGV[6])
index(id, 'active', ARGV[2], rank, ARGV[5])
return redis.call('HGETALL', key)
`)

// ownedPrelude checks that KEYS[1] is active under the token in ARGV[3].
// It yields -1 for a missing job and 0 for a lost lock.
const ownedPrelude = prelude + `
local cur = redis.call('HMGET', KEYS[1], 'state', 'lock_token', 'queue', 'rank')
if not cur[1] then
  return -1
end
if cur[1] ~= 'active' or cur[2] ~= ARGV[3] then
  return 0
end
`

// heartbeatScript: KEYS[1] job key. ARGV: prefix, id, token, now ms, now.
var heartbeatScript = goredis.NewScript(ownedPrelude + `
redis.call('HSET', KEYS[1], 'heartbeat_at', ARGV[5])
redis.call('ZADD', P .. 'time:active', ARGV[4], ARGV[2])
return 1
`)

// progressScript: KEYS[1] job key. ARGV: prefix, id, token, progress, now.
var progressScript = goredis.NewScript(ownedPrelude + `
redis.call('HSET', KEYS[1], 'progress', ARGV[4], 'updated_at', ARGV[5])
return 1
`)

// transitionScript rewrites a job that is in an expected state, and when
// a token is given, owned by it. KEYS[1] job key. ARGV: prefix, id,
// token (may be empty), expected state, new state, new rank, score,
// field/value pairs. Returns -1 missing, 0 precondition failed, 1 done.
var transitionScript = goredis.NewScript(prelude + `
local cur = redis.call('HMGET', KEYS[1], 'state', 'lock_token', 'queue', 'rank')
if not cur[1] then
  return -1
end
if cur[1] ~= ARGV[4] or (ARGV[3] ~= '' and cur[2] ~= ARGV[3]) then
  return 0
end
unindex(ARGV[2], cur[1], cur[3], cur[4])
redis.call('HSET', KEYS[1], unpack(ARGV, 8))
local queue = redis.call('HGET', KEYS[1], 'queue')
index(ARGV[2], ARGV[5], queue, ARGV[6], ARGV[7])
return 1
`)

// promoteScript: ARGV: prefix, now ms, limit, now, limit - 1.
var promoteScript = goredis.NewScript(prelude + `
local limit = tonumber(ARGV[3])
local ids = {}
for _, rank in ipairs(redis.call('ZRANGE', P .. 'idx:stalled', 0, ARGV[5])) do
  table.insert(ids, string.sub(rank, 23))
end
for _, id in ipairs(redis.call('ZRANGEBYSCORE', P .. 'time:delayed', '-inf', ARGV[2], 'LIMIT', 0, ARGV[3])) do
  if #ids >= limit then
    break
  end
  table.insert(ids, id)
end
local out = {}
for _, id in ipairs(ids) do
  local key = P .. 'job:' .. id
  local cur = redis.call('HMGET', key, 'state', 'queue', 'rank')
  if cur[1] then
    unindex(id, cur[1], cur[2], cur[3])
    redis.call('HSET', key, 'state', 'waiting', 'updated_at', ARGV[4])
    index(id, 'waiting', cur[2], cur[3], 0)
    table.insert(out, redis.call('HGETALL', key))
  end
end
return out
`)

// reapScript: ARGV: prefix, cutoff ms, max stalled, now ms, now, reason.
var reapScript = goredis.NewScript(prelude + `
local maxStalled = tonumber(ARGV[3])
local out = {}
for _, id in ipairs(redis.call('ZRANGEBYSCORE', P .. 'time:active', '-inf', '(' .. ARGV[2])) do
  local key = P .. 'job:' .. id
  local cur = redis.call('HMGET', key, 'queue', 'rank')
  local count = redis.call('HINCRBY', key, 'stalled_count', 1)
  unindex(id, 'active', cur[1], cur[2])
  if count > maxStalled then
    redis.call('HSET', key, 'state', 'failed', 'lock_token', '',
      'failure_reason', ARGV[6], 'finished_at', ARGV[5], 'updated_at', ARGV[5])
    index(id, 'failed', cur[1], cur[2], ARGV[4])
  else
    redis.call('HSET', key, 'state', 'stalled', 'lock_token', '', 'updated_at', ARGV[5])
    index(id, 'stalled', cur[1], cur[2], 0)
  end
  table.insert(out, redis.call('HGETALL', key))
end
return out
`)

// deleteScript: ARGV: prefix, id.
var deleteScript = goredis.NewScript(prelude + `
return remove(ARGV[2])
`)

// evictScript: ARGV: prefix, state, older-than ms.
var evictScript = goredis.NewScript(prelude + `
local n = 0
for _, id in ipairs(redis.call('ZRANGEBYSCORE', P .. 'time:' .. ARGV[2], '-inf', '(' .. ARGV[3])) do
  n = n + remove(id)
end
return n
`)

// trimScript: ARGV: prefix, state, -(keep+1).
var trimScript = goredis.NewScript(prelude + `
local n = 0
for _, id in ipairs(redis.call('ZRANGE', P .. 'time:' .. ARGV[2], 0, ARGV[3])) do
  n = n + remove(id)
end
return n
`)

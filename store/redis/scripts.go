package redis

import goredis "github.com/redis/go-redis/v9"

// Scores of the waiting index are computed inside the scripts because the
// sequence number is drawn there: -priority * 1e12 + seq.

// createScript inserts a new job.
//
// KEYS: job hash, target index, seq counter
// ARGV: id, state, record, score, priority, waiting ("1" or "0")
// Returns 1 on insert, 0 if the job exists.
var createScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
local score = tonumber(ARGV[4])
if ARGV[6] == '1' then
	score = -tonumber(ARGV[5]) * 1e12 + redis.call('INCR', KEYS[3])
end
redis.call('HSET', KEYS[1], 'state', ARGV[2], 'data', ARGV[3])
redis.call('ZADD', KEYS[2], score, ARGV[1])
return 1
`)

// moveScript is the compare-and-move.
//
// KEYS: job hash, from index, to index, seq counter
// ARGV: id, from, to, record, score, priority, waiting ("1" or "0")
// Returns 1 on move, 0 if the job is in another index, -1 if missing.
var moveScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	return -1
end
if state ~= ARGV[2] then
	return 0
end
local score = tonumber(ARGV[5])
if ARGV[7] == '1' then
	score = -tonumber(ARGV[6]) * 1e12 + redis.call('INCR', KEYS[4])
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[1], 'state', ARGV[3], 'data', ARGV[4])
redis.call('ZADD', KEYS[3], score, ARGV[1])
return 1
`)

// deleteScript removes a job still in the from index.
//
// KEYS: job hash, from index
// ARGV: id, from
// Returns 1 on delete, 0 if the job is in another index, -1 if missing.
// A missing record also drops its orphaned member from the index.
var deleteScript = goredis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
	redis.call('ZREM', KEYS[2], ARGV[1])
	return -1
end
if state ~= ARGV[2] then
	return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return 1
`)

// advanceScript swaps a recurring definition if NextRunAt is unchanged.
//
// KEYS: definitions hash, next-run hash
// ARGV: key, prev (unix nanos), next (unix nanos), record
// Returns 1 on swap, 0 otherwise.
var advanceScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if not cur or cur ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[4])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
return 1
`)

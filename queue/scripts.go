package queue

// Lua scripts for atomic multi-key transitions. All are preloaded via
// ScriptLoad at startup so only the SHA travels per call.

// enqueueScript inserts a job unless one with the same key is already
// tracked (waiting, delayed or active).
//
// KEYS[1] = job hash, KEYS[2] = waiting zset
// ARGV[1] = job key, ARGV[2] = payload JSON, ARGV[3] = waiting score,
// ARGV[4] = priority, ARGV[5] = stall visibility ms,
// ARGV[6] = max retries, ARGV[7] = stall limit, ARGV[8] = backoff base ms
// Returns 1 on insert, 0 on duplicate.
const enqueueScript = `
if redis.call("exists", KEYS[1]) == 1 then
	return 0
end
redis.call("hset", KEYS[1],
	"payload", ARGV[2],
	"state", "waiting",
	"priority", ARGV[4],
	"attempt", 0,
	"stalls", 0,
	"stall_ms", ARGV[5],
	"max_retries", ARGV[6],
	"stall_limit", ARGV[7],
	"backoff_ms", ARGV[8])
redis.call("zadd", KEYS[2], ARGV[3], ARGV[1])
return 1
`

// reserveScript pops the highest-priority waiting job and moves it to
// the active set with a reservation deadline.
//
// KEYS[1] = waiting zset, KEYS[2] = active zset
// ARGV[1] = job hash prefix, ARGV[2] = now ms, ARGV[3] = consumer id
// Returns {jobKey, payload, attempt, stalls} or false.
const reserveScript = `
local popped = redis.call("zpopmin", KEYS[1], 1)
if #popped == 0 then
	return false
end
local key = popped[1]
local hash = ARGV[1] .. key
local stall = tonumber(redis.call("hget", hash, "stall_ms") or "60000")
local attempt = redis.call("hincrby", hash, "attempt", 1)
redis.call("hset", hash, "state", "active", "consumer", ARGV[3])
redis.call("zadd", KEYS[2], tonumber(ARGV[2]) + stall, key)
local payload = redis.call("hget", hash, "payload")
local stalls = redis.call("hget", hash, "stalls") or "0"
return {key, payload, attempt, stalls}
`

// ackScript completes an active job and retains it briefly for
// observability.
//
// KEYS[1] = active zset, KEYS[2] = job hash, KEYS[3] = completed list,
// KEYS[4] = counters hash
// ARGV[1] = job key, ARGV[2] = retention
// Returns 1 if the job was active, 0 otherwise.
const ackScript = `
if redis.call("zrem", KEYS[1], ARGV[1]) == 0 then
	return 0
end
local payload = redis.call("hget", KEYS[2], "payload")
redis.call("del", KEYS[2])
if payload then
	redis.call("lpush", KEYS[3], payload)
	redis.call("ltrim", KEYS[3], 0, tonumber(ARGV[2]) - 1)
end
redis.call("hincrby", KEYS[4], "completed", 1)
return 1
`

// failScript fails an active job: schedules a delayed retry while
// attempts remain, otherwise discards it into the failed list.
//
// KEYS[1] = active zset, KEYS[2] = job hash, KEYS[3] = delayed zset,
// KEYS[4] = failed list, KEYS[5] = counters hash
// ARGV[1] = job key, ARGV[2] = retry-ready ms, ARGV[3] = error,
// ARGV[4] = retention
// Returns "retry" or "failed" ("missing" if the job was not active).
const failScript = `
if redis.call("zrem", KEYS[1], ARGV[1]) == 0 then
	return "missing"
end
local attempt = tonumber(redis.call("hget", KEYS[2], "attempt") or "0")
local max = tonumber(redis.call("hget", KEYS[2], "max_retries") or "3")
if attempt <= max then
	redis.call("hset", KEYS[2], "state", "delayed", "last_error", ARGV[3])
	redis.call("zadd", KEYS[3], tonumber(ARGV[2]), ARGV[1])
	return "retry"
end
local payload = redis.call("hget", KEYS[2], "payload")
redis.call("del", KEYS[2])
if payload then
	redis.call("lpush", KEYS[4], payload)
	redis.call("ltrim", KEYS[4], 0, tonumber(ARGV[4]) - 1)
end
redis.call("hincrby", KEYS[5], "failed", 1)
return "failed"
`

// promoteScript moves due delayed jobs back into the waiting set at
// their original priority.
//
// KEYS[1] = delayed zset, KEYS[2] = waiting zset
// ARGV[1] = job hash prefix, ARGV[2] = now ms
// Returns the number promoted.
const promoteScript = `
local due = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[2])
for _, key in ipairs(due) do
	local hash = ARGV[1] .. key
	local pri = tonumber(redis.call("hget", hash, "priority") or "0")
	redis.call("zrem", KEYS[1], key)
	redis.call("hset", hash, "state", "waiting")
	redis.call("zadd", KEYS[2], -pri * 1e13 + tonumber(ARGV[2]), key)
end
return #due
`

// reclaimScript returns stalled active jobs (reservation deadline
// passed) to the waiting set at the same priority, up to the per-job
// stall limit; over the limit the job is discarded as failed.
//
// KEYS[1] = active zset, KEYS[2] = waiting zset, KEYS[3] = failed list,
// KEYS[4] = counters hash
// ARGV[1] = job hash prefix, ARGV[2] = now ms, ARGV[3] = retention
// Returns {reclaimed, discarded}.
const reclaimScript = `
local stalled = redis.call("zrangebyscore", KEYS[1], "-inf", ARGV[2])
local reclaimed = 0
local discarded = 0
for _, key in ipairs(stalled) do
	local hash = ARGV[1] .. key
	redis.call("zrem", KEYS[1], key)
	local stalls = redis.call("hincrby", hash, "stalls", 1)
	local limit = tonumber(redis.call("hget", hash, "stall_limit") or "3")
	if stalls > limit then
		local payload = redis.call("hget", hash, "payload")
		redis.call("del", hash)
		if payload then
			redis.call("lpush", KEYS[3], payload)
			redis.call("ltrim", KEYS[3], 0, tonumber(ARGV[3]) - 1)
		end
		redis.call("hincrby", KEYS[4], "failed", 1)
		discarded = discarded + 1
	else
		local pri = tonumber(redis.call("hget", hash, "priority") or "0")
		redis.call("hset", hash, "state", "waiting")
		redis.call("zadd", KEYS[2], -pri * 1e13 + tonumber(ARGV[2]), key)
		reclaimed = reclaimed + 1
	end
end
return {reclaimed, discarded}
`

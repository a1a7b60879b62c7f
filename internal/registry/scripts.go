package registry

import "github.com/redis/go-redis/v9"

// All registry keys share the {yg:booking} hash tag so every script touches a
// single cluster slot and the whole multi-key operation stays atomic.
//
//	{yg:booking}:hold:<holdID>   hash: order_id, keys, status, expires_at
//	{yg:booking}:slot:<slotKey>  set of holdIDs currently reserving the slot
//	{yg:booking}:holds           zset of holdIDs scored by expiry (consumed = +inf)

// reserveScript implements the all-or-nothing check-and-increment across the
// sorted key set. Stale members are pruned lazily on the way through, so a
// slot blocked only by an expired hold frees up without waiting for the
// reaper. Returns the conflicting slot keys, or an empty table on success.
//
// KEYS[1..n]   slot set keys (sorted)
// KEYS[n+1]    hold hash key
// KEYS[n+2]    sweep zset key
// ARGV[1]      now (unix seconds)
// ARGV[2]      expires_at (unix seconds)
// ARGV[3]      holdID
// ARGV[4]      orderID
// ARGV[5]      n
// ARGV[6..5+n] capacity per slot key
// ARGV[6+n]    raw slot keys joined by \n
var reserveScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local n = tonumber(ARGV[5])
local conflicts = {}
for i = 1, n do
  local members = redis.call('SMEMBERS', KEYS[i])
  for _, m in ipairs(members) do
    local hk = '{yg:booking}:hold:' .. m
    local st = redis.call('HGET', hk, 'status')
    local exp = tonumber(redis.call('HGET', hk, 'expires_at') or '0')
    if not st or (st ~= 'active' and st ~= 'consumed') then
      redis.call('SREM', KEYS[i], m)
    elseif st == 'active' and exp > 0 and exp <= now then
      redis.call('SREM', KEYS[i], m)
    end
  end
  if redis.call('SCARD', KEYS[i]) + 1 > tonumber(ARGV[5+i]) then
    local raw = {}
    for k in string.gmatch(ARGV[6+n], '[^\n]+') do table.insert(raw, k) end
    table.insert(conflicts, raw[i])
  end
end
if #conflicts > 0 then
  return conflicts
end
for i = 1, n do
  redis.call('SADD', KEYS[i], ARGV[3])
end
redis.call('HSET', KEYS[n+1],
  'order_id', ARGV[4],
  'keys', ARGV[6+n],
  'status', 'active',
  'expires_at', ARGV[2])
redis.call('ZADD', KEYS[n+2], ARGV[2], ARGV[3])
return {}
`)

// releaseScript frees every slot key held by the hold and stamps the final
// status. Idempotent: a missing or already released/expired hold is a no-op.
//
// KEYS[1] hold hash key
// KEYS[2] sweep zset key
// ARGV[1] holdID
// ARGV[2] final status ('released' or 'expired')
var releaseScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st or st == 'released' or st == 'expired' then
  return 0
end
local keys = redis.call('HGET', KEYS[1], 'keys')
if keys then
  for k in string.gmatch(keys, '[^\n]+') do
    redis.call('SREM', '{yg:booking}:slot:' .. k, ARGV[1])
  end
end
redis.call('HSET', KEYS[1], 'status', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// consumeScript converts a live hold from TTL-bound to booking-bound by
// parking its sweep score at +inf. expires_at is kept so reviveScript can
// undo the conversion when the ledger write fails.
//
// KEYS[1] hold hash key
// KEYS[2] sweep zset key
// ARGV[1] holdID
// ARGV[2] now (unix seconds)
var consumeScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if not st then return -1 end
if st == 'consumed' then return 1 end
if st ~= 'active' then return -1 end
local exp = tonumber(redis.call('HGET', KEYS[1], 'expires_at'))
if exp <= tonumber(ARGV[2]) then return -1 end
redis.call('HSET', KEYS[1], 'status', 'consumed')
redis.call('ZADD', KEYS[2], '+inf', ARGV[1])
return 1
`)

// reviveScript is the compensating inverse of consumeScript.
//
// KEYS[1] hold hash key
// KEYS[2] sweep zset key
// ARGV[1] holdID
var reviveScript = redis.NewScript(`
local st = redis.call('HGET', KEYS[1], 'status')
if st ~= 'consumed' then return 0 end
local exp = redis.call('HGET', KEYS[1], 'expires_at')
redis.call('HSET', KEYS[1], 'status', 'active')
redis.call('ZADD', KEYS[2], exp, ARGV[1])
return 1
`)

// sweepScript releases every expired ACTIVE hold in one pass and returns
// their ids for ledger reconciliation.
//
// KEYS[1] sweep zset key
// ARGV[1] now (unix seconds)
// ARGV[2] batch limit
var sweepScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
local out = {}
for _, id in ipairs(ids) do
  local hk = '{yg:booking}:hold:' .. id
  local st = redis.call('HGET', hk, 'status')
  if st == 'active' then
    local keys = redis.call('HGET', hk, 'keys')
    if keys then
      for k in string.gmatch(keys, '[^\n]+') do
        redis.call('SREM', '{yg:booking}:slot:' .. k, id)
      end
    end
    redis.call('HSET', hk, 'status', 'expired')
    table.insert(out, id)
  end
  redis.call('ZREM', KEYS[1], id)
end
return out
`)

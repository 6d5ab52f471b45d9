package redis

import "github.com/redis/go-redis/v9"

// Script results
const (
	scriptNotFound = -1
	scriptRejected = 0
	scriptApplied  = 1
)

// bidScript applies an accepted bid atomically on the Redis server.
// The write only happens if the stored price still equals the price the
// caller validated against, the auction is active, and the deadline has not
// passed. The bid record is appended in the same step so a rejected write
// never leaves an orphan bid behind.
var bidScript = redis.NewScript(`
	-- KEYS[1]: auction:{id}          (item hash)
	-- KEYS[2]: auction:{id}:bids     (bid history list)
	-- KEYS[3]: auctions:active       (deadline index)
	-- ARGV[1]: expected current price
	-- ARGV[2]: new price
	-- ARGV[3]: bidder id
	-- ARGV[4]: bidder nickname
	-- ARGV[5]: new end (unix ms)
	-- ARGV[6]: now (unix ms)
	-- ARGV[7]: bid record (json)
	-- ARGV[8]: auction id

	local state = redis.call('HMGET', KEYS[1], 'status', 'current_price', 'end_at')
	if not state[1] then
		return -1
	end
	if state[1] ~= 'active' then
		return 0
	end

	local current = tonumber(state[2])
	local end_at = tonumber(state[3])

	if current ~= tonumber(ARGV[1]) then
		return 0
	end
	if tonumber(ARGV[2]) <= current then
		return 0
	end
	if tonumber(ARGV[6]) >= end_at then
		return 0
	end

	-- the deadline never moves backwards
	local new_end = ARGV[5]
	if tonumber(new_end) < end_at then
		new_end = state[3]
	end

	redis.call('HSET', KEYS[1],
		'current_price', ARGV[2],
		'highest_bidder_id', ARGV[3],
		'highest_bidder_nickname', ARGV[4],
		'end_at', new_end)
	redis.call('RPUSH', KEYS[2], ARGV[7])
	redis.call('ZADD', KEYS[3], new_end, ARGV[8])
	return 1
`)

// endScript flips an expired auction to ended. Exactly one caller observes 1
// for a given auction.
var endScript = redis.NewScript(`
	-- KEYS[1]: auction:{id}
	-- KEYS[2]: auctions:active
	-- ARGV[1]: now (unix ms)
	-- ARGV[2]: auction id

	local state = redis.call('HMGET', KEYS[1], 'status', 'end_at')
	if not state[1] then
		return -1
	end
	if state[1] ~= 'active' then
		return 0
	end
	if tonumber(state[2]) >= tonumber(ARGV[1]) then
		return 0
	end

	redis.call('HSET', KEYS[1], 'status', 'ended')
	redis.call('ZREM', KEYS[2], ARGV[2])
	return 1
`)

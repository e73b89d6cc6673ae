package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// saveScript performs the compare-and-set for RedisSeatMapStore.Save.
// A hash without a version field counts as version 0.
//
// KEYS[1] map hash, KEYS[2] index set
// ARGV    expected, new version, seats json, bus id, journey date, index member
var saveScript = redis.NewScript(`
	local cur = redis.call('HGET', KEYS[1], 'version')
	if not cur then cur = '0' end
	if cur ~= ARGV[1] then
		return 0
	end
	redis.call('HSET', KEYS[1], 'version', ARGV[2], 'seats', ARGV[3], 'bus_id', ARGV[4], 'journey_date', ARGV[5])
	redis.call('SADD', KEYS[2], ARGV[6])
	return 1
`)

// RedisSeatMapStore keeps each seat map in a Redis hash named
// <prefix>:<bus>:<date>.  The seats field holds the JSON encoded map of
// non-free seats.  An index set lists every stored map for Keys.
type RedisSeatMapStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisSeatMapStore returns a store using rdb.  An empty prefix
// defaults to "seatmap".
func NewRedisSeatMapStore(rdb *redis.Client, prefix string) *RedisSeatMapStore {
	if prefix == "" {
		prefix = "seatmap"
	}
	return &RedisSeatMapStore{rdb: rdb, prefix: prefix}
}

func (s *RedisSeatMapStore) hashKey(key model.SeatMapKey) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, key.BusID, key.Date())
}

func (s *RedisSeatMapStore) indexKey() string { return s.prefix + ":index" }

// Load reads the hash for key.  A missing hash is an empty map at
// version 0.
func (s *RedisSeatMapStore) Load(ctx context.Context, key model.SeatMapKey) (*model.SeatMap, error) {
	fields, err := s.rdb.HGetAll(ctx, s.hashKey(key)).Result()
	if err != nil {
		return nil, err
	}
	m := model.NewSeatMap(key)
	if len(fields) == 0 {
		return m, nil
	}
	v, err := strconv.ParseUint(fields["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("seat map %s: bad version %q", key, fields["version"])
	}
	m.Version = v
	if raw := fields["seats"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Seats); err != nil {
			return nil, fmt.Errorf("seat map %s: %w", key, err)
		}
	}
	return m, nil
}

// Save writes m atomically when the stored version equals expected.
func (s *RedisSeatMapStore) Save(ctx context.Context, m *model.SeatMap, expected uint64) error {
	key := m.Key()
	seats, err := json.Marshal(m.Seats)
	if err != nil {
		return err
	}
	ok, err := saveScript.Run(ctx, s.rdb,
		[]string{s.hashKey(key), s.indexKey()},
		strconv.FormatUint(expected, 10),
		strconv.FormatUint(m.Version, 10),
		string(seats),
		key.BusID,
		key.Date(),
		key.String(),
	).Int()
	if err != nil {
		return err
	}
	if ok == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Keys lists indexed maps whose journey date is on or after since.
func (s *RedisSeatMapStore) Keys(ctx context.Context, since time.Time) ([]model.SeatMapKey, error) {
	members, err := s.rdb.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	since = model.TruncateDate(since)
	keys := make([]model.SeatMapKey, 0, len(members))
	for _, mbr := range members {
		i := strings.LastIndex(mbr, "_")
		if i <= 0 {
			continue
		}
		date, err := model.ParseDate(mbr[i+1:])
		if err != nil {
			continue
		}
		if date.Before(since) {
			continue
		}
		keys = append(keys, model.NewSeatMapKey(mbr[:i], date))
	}
	return keys, nil
}

package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jlefkoff/VATSIM-EDST-API/internal/edst"
	"github.com/jlefkoff/VATSIM-EDST-API/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Value codecs
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

// ClientInterface defines the Redis operations used by the store
type ClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// Options configure a RecordStore
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Codec     string
	// KeyTTL bounds how long an abandoned record lingers if no pass evicts it.
	// Zero keeps records until deleted.
	KeyTTL time.Duration
}

// RecordStore keeps EDST records in Redis. Each record lives under
// <prefix>record:<callsign> and the set <prefix>callsigns indexes them.
type RecordStore struct {
	client ClientInterface
	opts   Options
	logger *logger.Logger
}

// New connects to Redis and returns a store
func New(opts Options, log *logger.Logger) (*RecordStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, opts, log), nil
}

// NewWithClient creates a store over an existing client
func NewWithClient(client ClientInterface, opts Options, log *logger.Logger) *RecordStore {
	if opts.Codec == "" {
		opts.Codec = CodecJSON
	}
	return &RecordStore{
		client: client,
		opts:   opts,
		logger: log.Named("redis"),
	}
}

// Close closes the Redis connection
func (s *RecordStore) Close() error {
	return s.client.Close()
}

func (s *RecordStore) recordKey(callsign string) string {
	return s.opts.KeyPrefix + "record:" + callsign
}

func (s *RecordStore) indexKey() string {
	return s.opts.KeyPrefix + "callsigns"
}

// Upsert stores the record and adds it to the callsign index
func (s *RecordStore) Upsert(ctx context.Context, record *edst.Record) error {
	data, err := s.encode(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %s: %w", record.Callsign, err)
	}

	if err := s.client.Set(ctx, s.recordKey(record.Callsign), data, s.opts.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to store record %s: %w", record.Callsign, err)
	}
	if err := s.client.SAdd(ctx, s.indexKey(), record.Callsign).Err(); err != nil {
		return fmt.Errorf("failed to index record %s: %w", record.Callsign, err)
	}
	return nil
}

// Get returns the record for callsign, or edst.ErrNotFound
func (s *RecordStore) Get(ctx context.Context, callsign string) (*edst.Record, error) {
	data, err := s.client.Get(ctx, s.recordKey(callsign)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", edst.ErrNotFound, callsign)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", callsign, err)
	}
	return s.decode(data)
}

// Delete removes the record and its index entry
func (s *RecordStore) Delete(ctx context.Context, callsign string) error {
	if err := s.client.Del(ctx, s.recordKey(callsign)).Err(); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", callsign, err)
	}
	if err := s.client.SRem(ctx, s.indexKey(), callsign).Err(); err != nil {
		return fmt.Errorf("failed to unindex record %s: %w", callsign, err)
	}
	return nil
}

// All returns every indexed record ordered by callsign. Index entries whose
// record has expired are dropped from the index. An unreadable value comes
// back as a placeholder holding only its callsign, which the next pass
// evicts or rebuilds.
func (s *RecordStore) All(ctx context.Context) ([]*edst.Record, error) {
	callsigns, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list callsigns: %w", err)
	}
	records := make([]*edst.Record, 0, len(callsigns))
	if len(callsigns) == 0 {
		return records, nil
	}
	sort.Strings(callsigns)

	keys := make([]string, len(callsigns))
	for i, cs := range callsigns {
		keys[i] = s.recordKey(cs)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	var missing []interface{}
	for i, v := range values {
		if v == nil {
			missing = append(missing, callsigns[i])
			continue
		}
		str, ok := v.(string)
		if !ok {
			s.logger.Warn("Record has unexpected value type, keeping placeholder",
				logger.String("callsign", callsigns[i]))
			records = append(records, &edst.Record{Callsign: callsigns[i]})
			continue
		}
		rec, err := s.decode([]byte(str))
		if err != nil {
			s.logger.Warn("Unreadable record, keeping placeholder",
				logger.String("callsign", callsigns[i]),
				logger.Error(err))
			rec = &edst.Record{Callsign: callsigns[i]}
		}
		records = append(records, rec)
	}

	if len(missing) > 0 {
		if err := s.client.SRem(ctx, s.indexKey(), missing...).Err(); err != nil {
			s.logger.Warn("Failed to prune callsign index", logger.Error(err))
		}
	}
	return records, nil
}

func (s *RecordStore) encode(record *edst.Record) ([]byte, error) {
	if s.opts.Codec != CodecMsgpack {
		return json.Marshal(record)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(record); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *RecordStore) decode(data []byte) (*edst.Record, error) {
	var rec edst.Record
	if s.opts.Codec != CodecMsgpack {
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("failed to decode record: %w", err)
		}
		return &rec, nil
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &rec, nil
}

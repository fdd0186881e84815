package metricstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/opensource-finance/fraudwatch/internal/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "fraudwatch:metrics:"

// saveScript writes one rule's metrics unless the stored copy has seen more
// evaluations, so a lagging replica cannot roll counters back.
var saveScript = redis.NewScript(`
	local current = tonumber(redis.call('HGET', KEYS[1], 'evaluations_count') or '0')
	if tonumber(ARGV[1]) < current then
		return 0
	end
	redis.call('HSET', KEYS[1],
		'evaluations_count', ARGV[1],
		'triggers_count', ARGV[2],
		'avg_processing_time', ARGV[3],
		'last_evaluated', ARGV[4])
	redis.call('SADD', KEYS[2], ARGV[5])
	return 1
`)

// RedisStore keeps rule metrics in Redis hashes, one per rule, plus a set
// indexing the rule ids.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int) (*RedisStore, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client}, nil
}

// SaveMetrics implements domain.MetricsStore.
func (s *RedisStore) SaveMetrics(ctx context.Context, metrics []domain.RuleMetrics) error {
	for _, m := range metrics {
		if m.RuleID == "" {
			continue
		}
		err := saveScript.Run(ctx, s.client,
			[]string{metricsKey(m.RuleID), indexKey()},
			m.EvaluationsCount,
			m.TriggersCount,
			strconv.FormatFloat(m.AvgProcessingTime, 'g', -1, 64),
			m.LastEvaluated.UTC().Format(time.RFC3339Nano),
			m.RuleID,
		).Err()
		if err != nil {
			return fmt.Errorf("failed to save metrics for rule %s: %w", m.RuleID, err)
		}
	}
	return nil
}

// LoadMetrics implements domain.MetricsStore.
func (s *RedisStore) LoadMetrics(ctx context.Context) ([]domain.RuleMetrics, error) {
	ids, err := s.client.SMembers(ctx, indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, metricsKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	metrics := make([]domain.RuleMetrics, 0, len(ids))
	for i, id := range ids {
		fields := cmds[i].Val()
		if len(fields) == 0 {
			continue
		}
		m, err := parseMetrics(id, fields)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}

// Ping checks Redis connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func parseMetrics(ruleID string, fields map[string]string) (domain.RuleMetrics, error) {
	m := domain.RuleMetrics{RuleID: ruleID}
	var err error

	if m.EvaluationsCount, err = strconv.ParseInt(fields["evaluations_count"], 10, 64); err != nil {
		return m, fmt.Errorf("rule %s: bad evaluations_count: %w", ruleID, err)
	}
	if m.TriggersCount, err = strconv.ParseInt(fields["triggers_count"], 10, 64); err != nil {
		return m, fmt.Errorf("rule %s: bad triggers_count: %w", ruleID, err)
	}
	if m.AvgProcessingTime, err = strconv.ParseFloat(fields["avg_processing_time"], 64); err != nil {
		return m, fmt.Errorf("rule %s: bad avg_processing_time: %w", ruleID, err)
	}
	if v := fields["last_evaluated"]; v != "" {
		if m.LastEvaluated, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return m, fmt.Errorf("rule %s: bad last_evaluated: %w", ruleID, err)
		}
	}
	return m, nil
}

func metricsKey(ruleID string) string {
	return keyPrefix + "rule:" + ruleID
}

func indexKey() string {
	return keyPrefix + "index"
}

package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/patrickwarner/dcoserve/internal/models"
)

const (
	catalogPrefix  = "dco:"
	templatePrefix = catalogPrefix + "tpl:"
	campaignPrefix = catalogPrefix + "camp:"
	countsPrefix   = "dco_counts:"
)

// RedisStore wraps a redis client used as a read-through catalog cache and for
// per ad variant event counters.
type RedisStore struct {
	Client *redis.Client
}

// InitRedis initializes a Redis client and returns a RedisStore.
func InitRedis(addr string) (*RedisStore, error) {
	rs := &RedisStore{
		Client: redis.NewClient(&redis.Options{Addr: addr}),
	}

	if err := redisotel.InstrumentTracing(rs.Client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis tracing: %w", err)
	}

	if err := rs.Client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	zap.L().Info("Connected to Redis", zap.String("addr", addr))
	return rs, nil
}

// keyPart escapes an id for use between ':' separators, so ids containing
// ':' cannot collide with another campaign/template pair.
func keyPart(id string) string {
	return url.QueryEscape(id)
}

func templateKey(templateID string) string {
	return templatePrefix + keyPart(templateID)
}

func campaignKey(campaignID, templateID string) string {
	return campaignPrefix + keyPart(campaignID) + ":" + keyPart(templateID)
}

func countsKey(campaignID, templateID string) string {
	return countsPrefix + keyPart(campaignID) + ":" + keyPart(templateID)
}

// getJSON loads key into dst. found is false on a cache miss.
func (r *RedisStore) getJSON(ctx context.Context, key string, dst any) (found bool, err error) {
	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

func (r *RedisStore) setJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key, data, ttl).Err()
}

// GetTemplateComponents returns cached components for the template.
func (r *RedisStore) GetTemplateComponents(ctx context.Context, templateID string) ([]models.ComponentDefinition, bool, error) {
	var out []models.ComponentDefinition
	found, err := r.getJSON(ctx, templateKey(templateID), &out)
	return out, found, err
}

// SetTemplateComponents caches components for ttl.
func (r *RedisStore) SetTemplateComponents(ctx context.Context, templateID string, components []models.ComponentDefinition, ttl time.Duration) error {
	return r.setJSON(ctx, templateKey(templateID), components, ttl)
}

// GetCampaignRecords returns cached campaign versions for the pair.
func (r *RedisStore) GetCampaignRecords(ctx context.Context, campaignID, templateID string) ([]models.CampaignRecord, bool, error) {
	var out []models.CampaignRecord
	found, err := r.getJSON(ctx, campaignKey(campaignID, templateID), &out)
	return out, found, err
}

// SetCampaignRecords caches campaign versions for ttl.
func (r *RedisStore) SetCampaignRecords(ctx context.Context, campaignID, templateID string, records []models.CampaignRecord, ttl time.Duration) error {
	return r.setJSON(ctx, campaignKey(campaignID, templateID), records, ttl)
}

// InvalidateTemplate drops the cached components of the template.
func (r *RedisStore) InvalidateTemplate(ctx context.Context, templateID string) error {
	return r.Client.Del(ctx, templateKey(templateID)).Err()
}

// InvalidateCampaign drops the cached versions of the pair.
func (r *RedisStore) InvalidateCampaign(ctx context.Context, campaignID, templateID string) error {
	return r.Client.Del(ctx, campaignKey(campaignID, templateID)).Err()
}

// FlushCatalog deletes every cached catalog entry and returns how many keys
// were removed. Event counters are kept.
func (r *RedisStore) FlushCatalog(ctx context.Context) (int, error) {
	return r.deleteMatching(ctx, catalogPrefix+"*")
}

// ResetEventCounts drops every per ad counter hash. Recorded events are not
// touched.
func (r *RedisStore) ResetEventCounts(ctx context.Context) (int, error) {
	return r.deleteMatching(ctx, countsPrefix+"*")
}

func (r *RedisStore) deleteMatching(ctx context.Context, pattern string) (int, error) {
	var removed int
	iter := r.Client.Scan(ctx, 0, pattern, 100).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 100 {
			n, err := r.Client.Del(ctx, batch...).Result()
			if err != nil {
				return removed, err
			}
			removed += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return removed, err
	}
	if len(batch) > 0 {
		n, err := r.Client.Del(ctx, batch...).Result()
		if err != nil {
			return removed, err
		}
		removed += int(n)
	}
	return removed, nil
}

// IncrementEventCount bumps the counter for the event's ad variant and type.
func (r *RedisStore) IncrementEventCount(ctx context.Context, e models.Event) (int64, error) {
	return r.Client.HIncrBy(ctx, countsKey(e.CampaignID, e.TemplateID), e.AdID+"|"+string(e.Type), 1).Result()
}

// AdCounts holds the event totals of one ad variant.
type AdCounts struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
}

// GetEventCounts returns per ad counters for the pair keyed by ad id.
func (r *RedisStore) GetEventCounts(ctx context.Context, campaignID, templateID string) (map[string]AdCounts, error) {
	raw, err := r.Client.HGetAll(ctx, countsKey(campaignID, templateID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]AdCounts, len(raw))
	for field, v := range raw {
		idx := strings.LastIndex(field, "|")
		if idx == -1 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		adID, typ := field[:idx], models.EventType(field[idx+1:])
		c := out[adID]
		switch typ {
		case models.EventImpression:
			c.Impressions = n
		case models.EventClick:
			c.Clicks = n
		}
		out[adID] = c
	}
	return out, nil
}

// Close shuts down the Redis client.
func (r *RedisStore) Close() {
	if r != nil && r.Client != nil {
		if err := r.Client.Close(); err != nil {
			zap.L().Error("redis close", zap.Error(err))
		}
	}
}

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aura-dx/aura/internal/diagnosis"
)

// ResultCache keeps the latest completed run per patient in Redis so the
// dashboard's polling endpoint does not hit Postgres on every request.
type ResultCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *log.Logger
}

func NewResultCache(rdb *redis.Client, ttl time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ResultCache{
		rdb: rdb,
		ttl: ttl,
		log: log.New(log.Writer(), "[CACHE] ", log.LstdFlags),
	}
}

func latestKey(patientID int) string {
	return fmt.Sprintf("aura:latest:%d", patientID)
}

// SetLatest stores the record under the patient's latest-result key.
func (c *ResultCache) SetLatest(ctx context.Context, rec *diagnosis.RunRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, latestKey(rec.PatientID), raw, c.ttl).Err()
}

// GetLatest returns the cached latest record for a patient. A miss or a
// decode failure returns ok=false; the caller falls through to Postgres.
func (c *ResultCache) GetLatest(ctx context.Context, patientID int) (*diagnosis.RunRecord, bool) {
	raw, err := c.rdb.Get(ctx, latestKey(patientID)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.log.Printf("redis get failed for patient %d: %v", patientID, err)
		return nil, false
	}
	var rec diagnosis.RunRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		c.log.Printf("cached record for patient %d is corrupt, evicting: %v", patientID, err)
		c.rdb.Del(ctx, latestKey(patientID))
		return nil, false
	}
	return &rec, true
}

// Invalidate drops the cached latest result for a patient.
func (c *ResultCache) Invalidate(ctx context.Context, patientID int) {
	if err := c.rdb.Del(ctx, latestKey(patientID)).Err(); err != nil {
		c.log.Printf("redis del failed for patient %d: %v", patientID, err)
	}
}

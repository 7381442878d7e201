package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Bharat-Ride-org/Bharat-Ride/internal/models"
)

// RedisGeo implements Presence using Redis GEO commands plus a per-driver
// metadata hash for status and rating.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

// NewRedisGeoWithClient lets callers share one client (the consumer does).
func NewRedisGeoWithClient(c *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) SetOnline(ctx context.Context, d models.DriverPresence) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: d.Loc.Lng, Latitude: d.Loc.Lat, Name: d.DriverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(d.DriverID), map[string]interface{}{
		"status":  string(models.DriverOnline),
		"rating":  strconv.FormatFloat(d.Rating, 'f', 2, 64),
		"updated": time.Now().Format(time.RFC3339),
	}).Err()
}

func (r *RedisGeo) SetOffline(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return err
	}
	return r.client.Del(ctx, metaKey(driverID)).Err()
}

func (r *RedisGeo) SetStatus(ctx context.Context, driverID string, st models.DriverStatus) error {
	n, err := r.client.Exists(ctx, metaKey(driverID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownDriver
	}
	return r.client.HSet(ctx, metaKey(driverID), "status", string(st)).Err()
}

func (r *RedisGeo) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: loc.Lng, Latitude: loc.Lat, Name: driverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(driverID), "updated", time.Now().Format(time.RFC3339)).Err()
}

func (r *RedisGeo) Get(ctx context.Context, driverID string) (models.DriverPresence, error) {
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.DriverPresence{}, err
	}
	if len(m) == 0 {
		return models.DriverPresence{}, ErrUnknownDriver
	}
	d := models.DriverPresence{DriverID: driverID}
	fillMeta(&d, m)
	if pos, err := r.client.GeoPos(ctx, r.key, driverID).Result(); err == nil && len(pos) > 0 && pos[0] != nil {
		d.Loc = models.Coord{Lat: pos[0].Latitude, Lng: pos[0].Longitude}
	}
	return d, nil
}

func (r *RedisGeo) Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.DriverPresence, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusM, Unit: "m", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DriverPresence, 0, len(res))
	for _, g := range res {
		d := models.DriverPresence{
			DriverID: g.Name,
			Loc:      models.Coord{Lat: g.Latitude, Lng: g.Longitude},
		}
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			fillMeta(&d, m)
		}
		if d.Status != models.DriverOnline {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func fillMeta(d *models.DriverPresence, m map[string]string) {
	if v, ok := m["status"]; ok {
		d.Status = models.DriverStatus(v)
	}
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.Rating = f
		}
	}
	if v, ok := m["updated"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			d.LastReportedAt = t
		}
	}
}

func metaKey(id string) string { return "driver:meta:" + id }

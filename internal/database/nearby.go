package database

import (
	"context"
	"fmt"
	"sort"

	"citysnap-backend/internal/models"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// area is the circle around a report that counts as "nearby".
type area struct {
	center orb.Point
	radius float64
	bound  orb.Bound
}

// areaAround returns false when the report has no coordinates or radius is
// not positive.
func areaAround(r *models.Report, radiusMeters float64) (area, bool) {
	if !r.Latitude.Valid || !r.Longitude.Valid || radiusMeters <= 0 {
		return area{}, false
	}
	center := orb.Point{r.Longitude.Float64, r.Latitude.Float64}
	return area{
		center: center,
		radius: radiusMeters,
		bound:  geo.NewBoundAroundPoint(center, radiusMeters),
	}, true
}

func (a area) contains(lat, lng float64) bool {
	p := orb.Point{lng, lat}
	return a.bound.Contains(p) && geo.Distance(a.center, p) <= a.radius
}

// NearbyPushTokens returns the push tokens of users, other than the
// submitter, who filed a report within radiusMeters of reportID.
func (s *PostgresStore) NearbyPushTokens(ctx context.Context, reportID int64, radiusMeters float64) ([]string, error) {
	origin, err := s.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	a, ok := areaAround(origin, radiusMeters)
	if !ok {
		return []string{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.push_token, r.latitude, r.longitude
		FROM reports r
		JOIN users u ON u.user_id = r.user_id
		WHERE r.user_id <> $1
		  AND u.push_token IS NOT NULL AND u.push_token <> ''
		  AND r.latitude BETWEEN $2 AND $3
		  AND r.longitude BETWEEN $4 AND $5
	`, origin.UserID, a.bound.Min.Lat(), a.bound.Max.Lat(), a.bound.Min.Lon(), a.bound.Max.Lon())
	if err != nil {
		return nil, classify("list nearby push tokens", err)
	}
	defer rows.Close()

	seen := make(map[string]bool)
	tokens := make([]string, 0)
	for rows.Next() {
		var (
			token    string
			lat, lng float64
		)
		if err := rows.Scan(&token, &lat, &lng); err != nil {
			return nil, classify("list nearby push tokens", err)
		}
		if seen[token] || !a.contains(lat, lng) {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list nearby push tokens", err)
	}
	sort.Strings(tokens)
	return tokens, nil
}

func (s *MemoryStore) NearbyPushTokens(_ context.Context, reportID int64, radiusMeters float64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	origin, ok := s.reports[reportID]
	if !ok {
		return nil, classify("get report", fmt.Errorf("%w: %d", ErrReportNotFound, reportID))
	}
	a, ok := areaAround(origin, radiusMeters)
	if !ok {
		return []string{}, nil
	}

	seen := make(map[string]bool)
	tokens := make([]string, 0)
	for _, r := range s.reports {
		if r.UserID == origin.UserID || !r.Latitude.Valid || !r.Longitude.Valid {
			continue
		}
		u, ok := s.users[r.UserID]
		if !ok || u.PushToken == "" || seen[u.PushToken] {
			continue
		}
		if a.contains(r.Latitude.Float64, r.Longitude.Float64) {
			seen[u.PushToken] = true
			tokens = append(tokens, u.PushToken)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

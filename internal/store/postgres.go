package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/db"
	"github.com/sells-group/coverage-map/internal/model"
)

// PostgresSource reads siting data from PostGIS tables in the siting schema.
type PostgresSource struct {
	pool db.Pool
}

// NewPostgresSource wraps pool.
func NewPostgresSource(pool db.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;
CREATE SCHEMA IF NOT EXISTS siting;

CREATE TABLE IF NOT EXISTS siting.facilities (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	name       TEXT,
	address    TEXT,
	geom       geometry(Point, 4326),
	attributes JSONB
);

CREATE TABLE IF NOT EXISTS siting.recommendations (
	id                  TEXT PRIMARY KEY,
	type                TEXT NOT NULL,
	recommendation_type TEXT NOT NULL DEFAULT 'standard',
	priority            TEXT NOT NULL DEFAULT 'medium',
	geom                geometry(Point, 4326),
	score               DOUBLE PRECISION NOT NULL DEFAULT 0,
	estimated_coverage  INTEGER NOT NULL DEFAULT 0,
	district            TEXT,
	max_travel_time     DOUBLE PRECISION
);

CREATE TABLE IF NOT EXISTS siting.population_grid (
	lat       DOUBLE PRECISION NOT NULL,
	lon       DOUBLE PRECISION NOT NULL,
	intensity DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS siting.districts (
	district             TEXT PRIMARY KEY,
	estimated_population INTEGER NOT NULL DEFAULT 0,
	num_buildings        INTEGER NOT NULL DEFAULT 0,
	center               geometry(Point, 4326)
);

CREATE INDEX IF NOT EXISTS idx_facilities_type ON siting.facilities(type);
CREATE INDEX IF NOT EXISTS idx_facilities_geom ON siting.facilities USING GIST(geom);
CREATE INDEX IF NOT EXISTS idx_recommendations_type ON siting.recommendations(type);
`

// Migrate creates the siting schema.
func (s *PostgresSource) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

const facilitiesQuery = `SELECT id, type, COALESCE(name, ''), COALESCE(address, ''), ST_AsEWKB(geom), COALESCE(attributes, '{}'::jsonb)
FROM siting.facilities ORDER BY id`

// Facilities lists every facility.
func (s *PostgresSource) Facilities(ctx context.Context) ([]model.Facility, error) {
	rows, err := s.pool.Query(ctx, facilitiesQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query facilities")
	}
	defer rows.Close()

	var out []model.Facility
	for rows.Next() {
		var (
			f     model.Facility
			id    string
			typ   string
			geom  []byte
			attrs []byte
		)
		if err := rows.Scan(&id, &typ, &f.Name, &f.Address, &geom, &attrs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan facility")
		}
		f.ID = model.NormalizeID(id)
		f.Type = model.FacilityType(typ)
		f.Coordinates = DecodePoint(geom)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &f.Attributes); err != nil {
				zap.L().Warn("postgres: bad facility attributes", zap.String("id", id), zap.Error(err))
			}
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate facilities")
}

// Recommendations ignores params.FacilityType: gap-zone subtypes only map to
// a facility type through the matcher, so filtering happens at draw time.
// MaxTravelTimeMinutes drops rows computed for a larger travel budget.
const recommendationsQuery = `SELECT id, type, recommendation_type, priority, ST_AsEWKB(geom), score, estimated_coverage, COALESCE(district, '')
FROM siting.recommendations
WHERE $1::float8 <= 0 OR max_travel_time IS NULL OR max_travel_time <= $1
ORDER BY score DESC, id`

// Recommendations lists siting recommendations.
func (s *PostgresSource) Recommendations(ctx context.Context, params model.RecommendationParams) (*model.RecommendationList, error) {
	rows, err := s.pool.Query(ctx, recommendationsQuery, params.MaxTravelTimeMinutes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query recommendations")
	}
	defer rows.Close()

	list := &model.RecommendationList{}
	var gaps int
	for rows.Next() {
		var (
			r        model.Recommendation
			id       string
			kind     string
			priority string
			geom     []byte
		)
		if err := rows.Scan(&id, &r.Type, &kind, &priority, &geom, &r.Score, &r.EstimatedCoverage, &r.District); err != nil {
			return nil, eris.Wrap(err, "postgres: scan recommendation")
		}
		r.ID = model.NormalizeID(id)
		r.RecommendationType = model.RecommendationKind(kind)
		r.Priority = model.Priority(priority)
		r.Coordinates = DecodePoint(geom)
		if r.IsGapZone() {
			gaps++
		}
		list.Recommendations = append(list.Recommendations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate recommendations")
	}

	list.Statistics = map[string]any{
		"total":     len(list.Recommendations),
		"gap_zones": gaps,
	}
	return list, nil
}

// PopulationGrid returns every grid cell.
func (s *PostgresSource) PopulationGrid(ctx context.Context) ([]model.HeatPoint, error) {
	rows, err := s.pool.Query(ctx, `SELECT lat, lon, intensity FROM siting.population_grid`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query population grid")
	}
	defer rows.Close()

	var out []model.HeatPoint
	for rows.Next() {
		var p model.HeatPoint
		if err := rows.Scan(&p.Lat, &p.Lon, &p.Intensity); err != nil {
			return nil, eris.Wrap(err, "postgres: scan grid cell")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate population grid")
}

// Districts lists per-district population summaries.
func (s *PostgresSource) Districts(ctx context.Context) ([]model.DistrictSummary, error) {
	rows, err := s.pool.Query(ctx, `SELECT district, estimated_population, num_buildings, ST_AsEWKB(center)
FROM siting.districts ORDER BY district`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query districts")
	}
	defer rows.Close()

	var out []model.DistrictSummary
	for rows.Next() {
		var (
			d    model.DistrictSummary
			geom []byte
		)
		if err := rows.Scan(&d.District, &d.EstimatedPopulation, &d.NumBuildings, &geom); err != nil {
			return nil, eris.Wrap(err, "postgres: scan district")
		}
		d.Center = DecodePoint(geom)
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate districts")
}

// PopulationEstimate combines the grid and district tables.
func (s *PostgresSource) PopulationEstimate(ctx context.Context) (*model.PopulationEstimate, error) {
	grid, err := s.PopulationGrid(ctx)
	if err != nil {
		return nil, err
	}
	districts, err := s.Districts(ctx)
	if err != nil {
		return nil, err
	}

	est := &model.PopulationEstimate{HeatmapData: grid, Districts: districts}
	for _, d := range districts {
		est.TotalPopulation += d.EstimatedPopulation
		est.TotalBuildings += d.NumBuildings
	}
	return est, nil
}

// SaveFacilities upserts facilities by id.
func (s *PostgresSource) SaveFacilities(ctx context.Context, facilities []model.Facility) (int64, error) {
	rows := make([][]any, 0, len(facilities))
	for _, f := range facilities {
		geom, err := EncodePoint(f.Coordinates)
		if err != nil {
			return 0, err
		}
		attrs, err := json.Marshal(f.Attributes)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: marshal attributes for %s", f.ID)
		}
		rows = append(rows, []any{string(f.ID), string(f.Type), f.Name, f.Address, geom, attrs})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "siting.facilities",
		Columns:      []string{"id", "type", "name", "address", "geom", "attributes"},
		ConflictKeys: []string{"id"},
	}, rows)
}

// SaveRecommendations upserts recommendations by id, tagging each with the
// travel budget it was computed for.
func (s *PostgresSource) SaveRecommendations(ctx context.Context, list []model.Recommendation, maxTravelMinutes float64) (int64, error) {
	rows := make([][]any, 0, len(list))
	for _, r := range list {
		geom, err := EncodePoint(r.Coordinates)
		if err != nil {
			return 0, err
		}
		var budget any
		if maxTravelMinutes > 0 {
			budget = maxTravelMinutes
		}
		kind := r.RecommendationType
		if kind == "" {
			kind = model.RecommendationStandard
		}
		rows = append(rows, []any{
			string(r.ID), r.EffectiveType(), string(kind), string(r.Priority), geom,
			r.Score, int32(r.EstimatedCoverage), nullable(r.District), budget,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table: "siting.recommendations",
		Columns: []string{
			"id", "type", "recommendation_type", "priority", "geom",
			"score", "estimated_coverage", "district", "max_travel_time",
		},
		ConflictKeys: []string{"id"},
	}, rows)
}

var gridColumns = []string{"lat", "lon", "intensity"}

// SavePopulation writes the grid and upserts the district summaries. The
// grid replaces the stored one unless appendGrid is set, in which case the
// cells are added to it, e.g. when a city is imported in several batches.
func (s *PostgresSource) SavePopulation(ctx context.Context, est *model.PopulationEstimate, appendGrid bool) error {
	cells := make([][]any, 0, len(est.HeatmapData))
	for _, p := range est.HeatmapData {
		if !p.Valid() {
			continue
		}
		cells = append(cells, []any{p.Lat, p.Lon, p.Intensity})
	}
	write := db.ReplaceAll
	if appendGrid {
		write = db.CopyFrom
	}
	if _, err := write(ctx, s.pool, "siting.population_grid", gridColumns, cells); err != nil {
		return err
	}

	districts := make([][]any, 0, len(est.Districts))
	for _, d := range est.Districts {
		center, err := EncodePoint(d.Center)
		if err != nil {
			return err
		}
		districts = append(districts, []any{d.District, int32(d.EstimatedPopulation), int32(d.NumBuildings), center})
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "siting.districts",
		Columns:      []string{"district", "estimated_population", "num_buildings", "center"},
		ConflictKeys: []string{"district"},
	}, districts)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Counts returns the row count of each siting table.
func (s *PostgresSource) Counts(ctx context.Context) (map[string]int64, error) {
	out := make(map[string]int64, 4)
	for _, table := range []string{"facilities", "recommendations", "population_grid", "districts"} {
		var n int64
		err := s.pool.QueryRow(ctx, "SELECT count(*) FROM "+pgx.Identifier{"siting", table}.Sanitize()).Scan(&n)
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: count %s", table)
		}
		out[table] = n
	}
	return out, nil
}

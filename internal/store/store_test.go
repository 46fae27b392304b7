package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/coverage-map/internal/model"
)

func TestPointRoundTrip(t *testing.T) {
	data, err := EncodePoint(model.NewCoordinates(43.238, 76.945))
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, ok := DecodePoint(data).LatLng()
	require.True(t, ok)
	assert.InDelta(t, 43.238, got.Lat, 1e-12)
	assert.InDelta(t, 76.945, got.Lon, 1e-12)
}

func TestEncodePoint_InvalidIsNull(t *testing.T) {
	data, err := EncodePoint(model.Coordinates{})
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestDecodePoint_Garbage(t *testing.T) {
	assert.False(t, DecodePoint(nil).Valid())
	assert.False(t, DecodePoint([]byte{0x01, 0x02}).Valid())
}

func newMockSource(t *testing.T) (*PostgresSource, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresSource(mock), mock
}

func mustPoint(t *testing.T, lat, lon float64) []byte {
	t.Helper()
	b, err := EncodePoint(model.NewCoordinates(lat, lon))
	require.NoError(t, err)
	return b
}

func TestPostgresSource_Facilities(t *testing.T) {
	s, mock := newMockSource(t)

	rows := pgxmock.NewRows([]string{"id", "type", "name", "address", "geom", "attributes"}).
		AddRow("17", "school", "School 17", "Abay 10", mustPoint(t, 43.25, 76.95), []byte(`{"capacity": 900}`)).
		AddRow("h-2", "hospital", "", "", []byte(nil), []byte(`{}`))
	mock.ExpectQuery(`FROM siting.facilities`).WillReturnRows(rows)

	got, err := s.Facilities(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, model.ID("17"), got[0].ID)
	assert.Equal(t, model.FacilityTypeSchool, got[0].Type)
	assert.True(t, got[0].Coordinates.Valid())
	assert.EqualValues(t, 900, got[0].Attributes["capacity"])

	assert.False(t, got[1].Coordinates.Valid())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_FacilitiesQueryError(t *testing.T) {
	s, mock := newMockSource(t)
	mock.ExpectQuery(`FROM siting.facilities`).WillReturnError(errors.New("relation does not exist"))

	_, err := s.Facilities(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: query facilities")
}

func TestPostgresSource_Recommendations(t *testing.T) {
	s, mock := newMockSource(t)

	rows := pgxmock.NewRows([]string{"id", "type", "recommendation_type", "priority", "geom", "score", "estimated_coverage", "district"}).
		AddRow("r1", "clinic_gap", "gap_zone", "high", mustPoint(t, 43.2, 76.9), 0.9, 5400, "Almaly").
		AddRow("r2", "school", "standard", "low", mustPoint(t, 43.3, 76.8), 0.4, 1200, "")
	mock.ExpectQuery(`FROM siting.recommendations`).WithArgs(20.0).WillReturnRows(rows)

	got, err := s.Recommendations(context.Background(), model.RecommendationParams{FacilityType: "clinic", MaxTravelTimeMinutes: 20})
	require.NoError(t, err)
	require.Len(t, got.Recommendations, 2)
	assert.True(t, got.Recommendations[0].IsGapZone())
	assert.Equal(t, "Almaly", got.Recommendations[0].District)
	assert.Equal(t, 2, got.Statistics["total"])
	assert.Equal(t, 1, got.Statistics["gap_zones"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_PopulationEstimate(t *testing.T) {
	s, mock := newMockSource(t)

	mock.ExpectQuery(`FROM siting.population_grid`).WillReturnRows(
		pgxmock.NewRows([]string{"lat", "lon", "intensity"}).
			AddRow(43.2, 76.9, 0.4).
			AddRow(43.3, 76.8, 0.9))
	mock.ExpectQuery(`FROM siting.districts`).WillReturnRows(
		pgxmock.NewRows([]string{"district", "estimated_population", "num_buildings", "center"}).
			AddRow("Almaly", 210000, 3100, mustPoint(t, 43.25, 76.92)).
			AddRow("Bostandyk", 350000, 5400, []byte(nil)))

	est, err := s.PopulationEstimate(context.Background())
	require.NoError(t, err)
	assert.Len(t, est.HeatmapData, 2)
	assert.Equal(t, 560000, est.TotalPopulation)
	assert.Equal(t, 8500, est.TotalBuildings)
	assert.True(t, est.Districts[0].Center.Valid())
	assert.False(t, est.Districts[1].Center.Valid())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_SaveFacilities(t *testing.T) {
	s, mock := newMockSource(t)
	cols := []string{"id", "type", "name", "address", "geom", "attributes"}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_siting_facilities"}, cols).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "siting"."facilities"`).WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.SaveFacilities(context.Background(), []model.Facility{
		{ID: "1", Type: model.FacilityTypeSchool, Name: "A", Coordinates: model.NewCoordinates(43.2, 76.9)},
		{ID: "2", Type: model.FacilityTypeClinic, Name: "B"},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_SavePopulation(t *testing.T) {
	s, mock := newMockSource(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "siting"."population_grid"`).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"siting", "population_grid"}, []string{"lat", "lon", "intensity"}).WillReturnResult(1)
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_siting_districts"}, []string{"district", "estimated_population", "num_buildings", "center"}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "siting"."districts"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SavePopulation(context.Background(), &model.PopulationEstimate{
		HeatmapData: []model.HeatPoint{{Lat: 43.2, Lon: 76.9, Intensity: 0.4}, {Lat: 999, Lon: 0, Intensity: 1}},
		Districts:   []model.DistrictSummary{{District: "Almaly", EstimatedPopulation: 1, Center: model.NewCoordinates(43.2, 76.9)}},
	}, false)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_SavePopulation_AppendGrid(t *testing.T) {
	s, mock := newMockSource(t)

	// No DELETE: appended cells keep the earlier batches.
	mock.ExpectCopyFrom(pgx.Identifier{"siting", "population_grid"}, []string{"lat", "lon", "intensity"}).WillReturnResult(2)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_siting_districts"}, []string{"district", "estimated_population", "num_buildings", "center"}).WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "siting"."districts"`).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.SavePopulation(context.Background(), &model.PopulationEstimate{
		HeatmapData: []model.HeatPoint{{Lat: 43.2, Lon: 76.9, Intensity: 0.4}, {Lat: 43.3, Lon: 76.8, Intensity: 1}},
		Districts:   []model.DistrictSummary{{District: "Bostandyk", EstimatedPopulation: 5, Center: model.NewCoordinates(43.2, 76.9)}},
	}, true)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_Counts(t *testing.T) {
	s, mock := newMockSource(t)
	for i, table := range []string{"facilities", "recommendations", "population_grid", "districts"} {
		mock.ExpectQuery(`SELECT count\(\*\) FROM "siting"."` + table + `"`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(i * 10)))
	}

	got, err := s.Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 30, got["districts"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func newTestSnapshotStore(t *testing.T) *SnapshotStore {
	t.Helper()
	st, err := NewSnapshotStore(context.Background(), filepath.Join(t.TempDir(), "snapshots.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	return st
}

func TestSnapshotStore_SaveLoad(t *testing.T) {
	st := newTestSnapshotStore(t)
	ctx := context.Background()

	in := []model.Facility{
		{ID: "1", Type: model.FacilityTypeSchool, Name: "A", Coordinates: model.NewCoordinates(43.2, 76.9)},
		{ID: "2", Type: model.FacilityTypeClinic, Name: "B"},
	}
	require.NoError(t, st.Save(ctx, KindFacilities, "", in))

	var out []model.Facility
	savedAt, ok, err := st.Load(ctx, KindFacilities, "", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), savedAt, time.Minute)
	require.Len(t, out, 2)
	assert.True(t, out[0].Coordinates.Valid())
	assert.False(t, out[1].Coordinates.Valid())
}

func TestSnapshotStore_Missing(t *testing.T) {
	st := newTestSnapshotStore(t)

	var out []model.Facility
	_, ok, err := st.Load(context.Background(), KindFacilities, "", &out)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, out)
}

func TestSnapshotStore_OverwriteAndVariants(t *testing.T) {
	st := newTestSnapshotStore(t)
	ctx := context.Background()

	require.NoError(t, st.Save(ctx, KindRecommendations, "school", model.RecommendationList{Recommendations: []model.Recommendation{{ID: "r1"}}}))
	require.NoError(t, st.Save(ctx, KindRecommendations, "school", model.RecommendationList{Recommendations: []model.Recommendation{{ID: "r2"}, {ID: "r3"}}}))
	require.NoError(t, st.Save(ctx, KindRecommendations, "all", model.RecommendationList{}))

	var got model.RecommendationList
	_, ok, err := st.Load(ctx, KindRecommendations, "school", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Recommendations, 2)

	kinds, err := st.Kinds(ctx)
	require.NoError(t, err)
	assert.Len(t, kinds, 2)
	assert.Contains(t, kinds, "recommendations/school")
}

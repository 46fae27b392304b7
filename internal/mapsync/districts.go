package mapsync

import (
	"go.uber.org/zap"

	"github.com/sells-group/coverage-map/internal/layers"
	"github.com/sells-group/coverage-map/internal/model"
)

// populationToggled handles a change of the population toggle. Every change
// bumps the fetch token, so a summary requested before the change can
// never be mounted after it. Callers hold s.mu.
func (s *Synchronizer) populationToggled(on bool, fx *effects) {
	s.districtToken++
	if !on {
		s.districts = nil
		fx.dirty(layers.Districts)
		return
	}
	s.startDistrictFetch()
}

// startDistrictFetch begins an async summary fetch unless one is already
// running, in which case a refetch is scheduled for when it lands.
func (s *Synchronizer) startDistrictFetch() {
	if s.loadDistricts == nil {
		return
	}
	if s.districtInFlight {
		s.districtRefetch = true
		return
	}

	s.districtInFlight = true
	token := s.districtToken
	ctx := s.ctx

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		districts, err := s.loadDistricts(ctx)
		s.dispatch(func(s *Synchronizer, fx *effects) {
			s.resolveDistricts(token, districts, err, fx)
		})
	}()
}

// resolveDistricts commits a fetched summary only if the request that
// produced it is still the latest and the population layer is still on.
func (s *Synchronizer) resolveDistricts(token uint64, districts []model.DistrictSummary, err error, fx *effects) {
	s.districtInFlight = false
	refetch := s.districtRefetch
	s.districtRefetch = false

	if s.ctx.Err() != nil {
		return
	}

	switch {
	case token != s.districtToken || !s.visible[TogglePopulation]:
		zap.L().Info("mapsync: discarding stale district summary",
			zap.Uint64("token", token),
			zap.Uint64("latest", s.districtToken),
		)
	case err != nil:
		zap.L().Warn("mapsync: district summary fetch failed", zap.Error(err))
	default:
		s.districts = append([]model.DistrictSummary(nil), districts...)
		fx.dirty(layers.Districts)
		return
	}

	if refetch && s.visible[TogglePopulation] {
		s.startDistrictFetch()
	}
}

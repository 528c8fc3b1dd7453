package cache

import (
	"testing"
	"time"

	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	store *Store
	asset types.Asset
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (suite *StoreTestSuite) SetupTest() {
	store, err := NewStore(suite.T().TempDir(), logger.NewNopLogger())
	suite.Require().NoError(err)
	suite.store = store
	suite.asset = types.NewEquity("SPY")
}

func (suite *StoreTestSuite) bars(start time.Time, n int) []types.Bar {
	out := make([]types.Bar, 0, n)
	for i := 0; i < n; i++ {
		t := start.Add(time.Duration(i) * time.Minute)
		out = append(out, types.Bar{Time: t, Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 1000})
	}

	return out
}

func (suite *StoreTestSuite) TestEntryPathStablePerTriple() {
	a := suite.store.EntryPath("vendor", suite.asset, types.TimestepMinute)
	b := suite.store.EntryPath("vendor", suite.asset, types.TimestepMinute)
	c := suite.store.EntryPath("vendor", suite.asset, types.TimestepHour)
	d := suite.store.EntryPath("other", suite.asset, types.TimestepMinute)

	suite.Assert().Equal(a, b)
	suite.Assert().NotEqual(a, c)
	suite.Assert().NotEqual(a, d)
}

func (suite *StoreTestSuite) TestWriteThenReadRoundTrip() {
	start := time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)
	bars := suite.bars(start, 5)
	end := bars[len(bars)-1].Time

	suite.Require().NoError(suite.store.Write("vendor", suite.asset, types.TimestepMinute, bars, start, end))

	covered, err := suite.store.Covered("vendor", suite.asset, types.TimestepMinute, start, end)
	suite.Require().NoError(err)
	suite.Assert().True(covered)

	got, err := suite.store.Read("vendor", suite.asset, types.TimestepMinute, start, end)
	suite.Require().NoError(err)
	suite.Require().Len(got, 5)
	suite.Assert().True(got[0].Time.Equal(start))
	suite.Assert().Equal(100.5, got[0].Close)
}

func (suite *StoreTestSuite) TestMissingEntryIsAMiss() {
	start := time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)

	covered, err := suite.store.Covered("vendor", suite.asset, types.TimestepMinute, start, start.Add(time.Hour))
	suite.Require().NoError(err)
	suite.Assert().False(covered)

	_, err = suite.store.Read("vendor", suite.asset, types.TimestepMinute, start, start.Add(time.Hour))
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *StoreTestSuite) TestCoverageMergesAdjacentWrites() {
	day1 := time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)
	day2 := day1.Add(4 * time.Minute)

	first := suite.bars(day1, 5)
	second := suite.bars(day2, 5)

	suite.Require().NoError(suite.store.Write("vendor", suite.asset, types.TimestepMinute, first, day1, first[len(first)-1].Time))
	suite.Require().NoError(suite.store.Write("vendor", suite.asset, types.TimestepMinute, second, day2, second[len(second)-1].Time))

	ranges, err := suite.store.Coverage("vendor", suite.asset, types.TimestepMinute)
	suite.Require().NoError(err)
	suite.Require().Len(ranges, 1)

	// The overlapping writes merged; the whole span is covered and the
	// duplicate minute was replaced, not doubled.
	got, err := suite.store.Read("vendor", suite.asset, types.TimestepMinute, day1, second[len(second)-1].Time)
	suite.Require().NoError(err)
	suite.Assert().Len(got, 9)
}

func (suite *StoreTestSuite) TestDisjointWritesKeepSeparateRanges() {
	morning := time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)
	nextWeek := morning.AddDate(0, 0, 7)

	first := suite.bars(morning, 3)
	second := suite.bars(nextWeek, 3)

	suite.Require().NoError(suite.store.Write("vendor", suite.asset, types.TimestepMinute, first, morning, first[len(first)-1].Time))
	suite.Require().NoError(suite.store.Write("vendor", suite.asset, types.TimestepMinute, second, nextWeek, second[len(second)-1].Time))

	ranges, err := suite.store.Coverage("vendor", suite.asset, types.TimestepMinute)
	suite.Require().NoError(err)
	suite.Assert().Len(ranges, 2)

	// The gap between the two ranges is not covered.
	covered, err := suite.store.Covered("vendor", suite.asset, types.TimestepMinute, morning, nextWeek)
	suite.Require().NoError(err)
	suite.Assert().False(covered)
}

func (suite *StoreTestSuite) TestMergeRanges() {
	t0 := time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)
	at := func(h int) time.Time { return t0.Add(time.Duration(h) * time.Hour) }

	tests := []struct {
		name     string
		input    []Range
		expected []Range
	}{
		{
			name:     "empty",
			input:    nil,
			expected: nil,
		},
		{
			name:     "overlapping collapse",
			input:    []Range{{at(0), at(5)}, {at(3), at(8)}},
			expected: []Range{{at(0), at(8)}},
		},
		{
			name:     "touching collapse",
			input:    []Range{{at(0), at(5)}, {at(5), at(8)}},
			expected: []Range{{at(0), at(8)}},
		},
		{
			name:     "contained absorbed",
			input:    []Range{{at(0), at(10)}, {at(2), at(4)}},
			expected: []Range{{at(0), at(10)}},
		},
		{
			name:     "disjoint preserved",
			input:    []Range{{at(6), at(8)}, {at(0), at(2)}},
			expected: []Range{{at(0), at(2)}, {at(6), at(8)}},
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			suite.Assert().Equal(tc.expected, mergeRanges(tc.input))
		})
	}
}

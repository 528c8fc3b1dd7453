package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type CSVTestSuite struct {
	suite.Suite
	asset types.Asset
	path  string
}

func TestCSVSuite(t *testing.T) {
	suite.Run(t, new(CSVTestSuite))
}

func (suite *CSVTestSuite) SetupTest() {
	suite.asset = types.NewEquity("SPY")
	suite.path = filepath.Join(suite.T().TempDir(), "bars.csv")

	// Rows deliberately out of order.
	content := `time,open,high,low,close,volume
2024-06-04T09:32:00Z,101,102,100.5,101.5,900
2024-06-04T09:30:00Z,100,101,99.5,100.5,1000
2024-06-04T09:31:00Z,100.5,101.5,100,101,1100
`
	suite.Require().NoError(os.WriteFile(suite.path, []byte(content), 0o644))
}

func (suite *CSVTestSuite) TestLoadSortsByTime() {
	bars, err := LoadBarsCSV(suite.path, suite.asset, types.TimestepMinute)
	suite.Require().NoError(err)
	suite.Require().Equal(3, bars.Len())

	suite.Assert().Equal(time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC), bars.At(0).Time)
	suite.Assert().Equal(100.5, bars.At(0).Close)
	suite.Assert().Equal(101.5, bars.At(2).Close)
}

func (suite *CSVTestSuite) TestLoadMissingFile() {
	_, err := LoadBarsCSV(filepath.Join(suite.T().TempDir(), "nope.csv"), suite.asset, types.TimestepMinute)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *CSVTestSuite) TestVendorServesRange() {
	bars, err := LoadBarsCSV(suite.path, suite.asset, types.TimestepMinute)
	suite.Require().NoError(err)

	vendor := NewCSVVendor(bars)
	suite.Assert().Equal("csv", vendor.Name())

	got, err := vendor.GetBars(context.Background(), suite.asset, types.TimestepMinute,
		time.Date(2024, 6, 4, 9, 31, 0, 0, time.UTC),
		time.Date(2024, 6, 4, 9, 32, 0, 0, time.UTC),
	)
	suite.Require().NoError(err)
	suite.Require().Len(got, 2)
	suite.Assert().Equal(101.0, got[0].Close)

	price, err := vendor.GetLastPrice(context.Background(), suite.asset)
	suite.Require().NoError(err)
	suite.Assert().Equal(101.5, price)
}

func (suite *CSVTestSuite) TestVendorRejectsOtherTimestep() {
	bars, err := LoadBarsCSV(suite.path, suite.asset, types.TimestepMinute)
	suite.Require().NoError(err)

	vendor := NewCSVVendor(bars)

	_, err = vendor.GetBars(context.Background(), suite.asset, types.TimestepDay, time.Time{}, time.Now())
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *CSVTestSuite) TestVendorHasNoChain() {
	vendor := NewCSVVendor(types.Bars{})

	_, err := vendor.GetChain(context.Background(), suite.asset)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeDataUnavailable))
}

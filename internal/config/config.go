// Package config defines the yaml run configurations for backtests and live
// trading. Durations and instants are carried as strings in the file and
// parsed by the To* converters, so a config round-trips through yaml exactly
// as written.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/helix-lab/tradewind/internal/broker/backtest"
	"github.com/helix-lab/tradewind/internal/calendar"
	"github.com/helix-lab/tradewind/internal/executor"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"gopkg.in/yaml.v3"
)

// VenueConfig selects the trading calendar.
type VenueConfig struct {
	Profile   calendar.Profile   `yaml:"profile" json:"profile" jsonschema:"title=Venue Profile,description=Named venue schedule,enum=us_equity,enum=24/7,enum=24/5,required" validate:"required,oneof=us_equity 24/7 24/5"`
	Overrides calendar.Overrides `yaml:"overrides" json:"overrides" jsonschema:"title=Overrides,description=Holiday and early-close exceptions"`
}

// ToCalendar builds the calendar for this venue.
func (c *VenueConfig) ToCalendar() (*calendar.Calendar, error) {
	return calendar.New(c.Profile, c.Overrides)
}

// AssetConfig names the instrument a run trades. Options are constructed by
// strategies from chains at run time and are not config-addressable.
type AssetConfig struct {
	Symbol string `yaml:"symbol" json:"symbol" jsonschema:"title=Symbol,description=Instrument ticker (e.g. SPY or BTCUSDT),required" validate:"required"`
	Class  string `yaml:"class" json:"class" jsonschema:"title=Asset Class,enum=EQUITY,enum=CRYPTO,enum=FOREX,enum=FUTURE,required" validate:"required,oneof=EQUITY CRYPTO FOREX FUTURE"`
	// Multiplier is the point value for futures; ignored for other classes.
	Multiplier float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty" jsonschema:"title=Multiplier,description=Point value for futures,minimum=0"`
}

// ToAsset converts the config to a typed asset. Futures are continuous
// front-month contracts; dated contracts are a strategy concern.
func (c *AssetConfig) ToAsset() (types.Asset, error) {
	var asset types.Asset

	switch types.AssetClass(c.Class) {
	case types.AssetClassEquity:
		asset = types.NewEquity(c.Symbol)
	case types.AssetClassCrypto:
		asset = types.NewCrypto(c.Symbol)
	case types.AssetClassForex:
		asset = types.NewForex(c.Symbol)
	case types.AssetClassFuture:
		asset = types.NewContinuousFuture(c.Symbol, c.Multiplier)
	default:
		return types.Asset{}, errors.Newf(errors.ErrCodeInvalidConfiguration, "unknown asset class %q", c.Class)
	}

	if err := asset.Validate(); err != nil {
		return types.Asset{}, err
	}

	return asset, nil
}

// ExecutionConfig shapes the trading-iteration loop.
type ExecutionConfig struct {
	Sleeptime            string `yaml:"sleeptime" json:"sleeptime" jsonschema:"title=Sleeptime,description=Pause between trading iterations (e.g. 1m or 30s),required" validate:"required"`
	MinutesBeforeClosing int    `yaml:"minutes_before_closing" json:"minutes_before_closing" jsonschema:"title=Minutes Before Closing,description=How long before the close the closing window starts,minimum=0" validate:"gte=0"`
}

// ToExecutorConfig parses the sleeptime and returns the executor config.
func (c *ExecutionConfig) ToExecutorConfig() (executor.Config, error) {
	sleeptime, err := time.ParseDuration(c.Sleeptime)
	if err != nil {
		return executor.Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid sleeptime %q", c.Sleeptime)
	}

	return executor.Config{
		Sleeptime:            sleeptime,
		MinutesBeforeClosing: c.MinutesBeforeClosing,
	}, nil
}

// BacktestConfig is a full backtest run: which instrument, over which window,
// from which bar file, under which venue schedule and fee model.
type BacktestConfig struct {
	InitialCash float64         `yaml:"initial_cash" json:"initial_cash" jsonschema:"title=Initial Cash,description=Starting cash in account currency,required" validate:"required,gt=0"`
	Venue       VenueConfig     `yaml:"venue" json:"venue" jsonschema:"required"`
	Asset       AssetConfig     `yaml:"asset" json:"asset" jsonschema:"required"`
	Execution   ExecutionConfig `yaml:"execution" json:"execution" jsonschema:"required"`

	// Start and End bound the simulated window, RFC3339.
	Start string `yaml:"start" json:"start" jsonschema:"title=Start,format=date-time,required" validate:"required"`
	End   string `yaml:"end" json:"end" jsonschema:"title=End,format=date-time,required" validate:"required"`

	// Data is the path to the bar CSV feeding the replay provider.
	Data     string              `yaml:"data" json:"data" jsonschema:"title=Data,description=Path to the OHLCV CSV file,required" validate:"required"`
	Timestep types.Timestep      `yaml:"timestep" json:"timestep" jsonschema:"title=Timestep,enum=minute,enum=hour,enum=day,required" validate:"required,oneof=minute hour day"`
	Fees     backtest.FeeProfile `yaml:"fees" json:"fees" jsonschema:"title=Fees,description=Commission model,enum=zero,enum=per_share" validate:"omitempty,oneof=zero per_share"`
}

// Validate checks the struct tags and the date formats.
func (c *BacktestConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid backtest config", err)
	}

	if _, _, err := c.Window(); err != nil {
		return err
	}

	return nil
}

// Window parses the simulated window bounds.
func (c *BacktestConfig) Window() (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid start %q, expected RFC3339", c.Start)
	}

	end, err := time.Parse(time.RFC3339, c.End)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid end %q, expected RFC3339", c.End)
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, errors.Newf(errors.ErrCodeInvalidConfiguration, "start %s is not before end %s", c.Start, c.End)
	}

	return start, end, nil
}

// FeeModel returns the configured commission model.
func (c *BacktestConfig) FeeModel() backtest.FeeModel {
	return backtest.FeeModelFor(c.Fees)
}

// TradeConfig is a live trading run. Credentials never live in the file; they
// come from the environment.
type TradeConfig struct {
	InitialCash float64         `yaml:"initial_cash" json:"initial_cash" jsonschema:"title=Initial Cash,description=Starting cash in account currency,required" validate:"required,gt=0"`
	Venue       VenueConfig     `yaml:"venue" json:"venue" jsonschema:"required"`
	Asset       AssetConfig     `yaml:"asset" json:"asset" jsonschema:"required"`
	Execution   ExecutionConfig `yaml:"execution" json:"execution" jsonschema:"required"`

	// CacheDir holds the market-data cache entries.
	CacheDir string         `yaml:"cache_dir" json:"cache_dir" jsonschema:"title=Cache Dir,description=Directory for market-data cache files,required" validate:"required"`
	Timestep types.Timestep `yaml:"timestep" json:"timestep" jsonschema:"title=Timestep,enum=minute,enum=hour,enum=day,required" validate:"required,oneof=minute hour day"`

	// Vendor feeds the live provider. The csv vendor replays a bar file,
	// which is what paper trading runs on.
	Vendor VendorConfig `yaml:"vendor" json:"vendor" jsonschema:"required"`

	// FeedURL optionally attaches a websocket fill feed alongside polling.
	FeedURL string `yaml:"feed_url,omitempty" json:"feed_url,omitempty" jsonschema:"title=Feed URL,description=Optional websocket execution feed"`
}

// VendorConfig selects and parameterizes the market-data vendor.
type VendorConfig struct {
	Name string `yaml:"name" json:"name" jsonschema:"title=Vendor,enum=csv,required" validate:"required,oneof=csv"`
	// Data is the bar file for the csv vendor.
	Data string `yaml:"data,omitempty" json:"data,omitempty" jsonschema:"title=Data,description=Path to the OHLCV CSV file for the csv vendor"`
}

// Validate checks the struct tags and vendor-specific requirements.
func (c *TradeConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid trade config", err)
	}

	if c.Vendor.Name == "csv" && c.Vendor.Data == "" {
		return errors.New(errors.ErrCodeInvalidConfiguration, "csv vendor requires a data file")
	}

	return nil
}

// LoadBacktest reads and validates a backtest config file.
func LoadBacktest(path string) (*BacktestConfig, error) {
	var config BacktestConfig
	if err := loadYAML(path, &config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadTrade reads and validates a trade config file.
func LoadTrade(path string) (*TradeConfig, error) {
	var config TradeConfig
	if err := loadYAML(path, &config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func loadYAML(path string, out any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config %s", path)
	}

	if err := yaml.Unmarshal(raw, out); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to parse config %s", path)
	}

	return nil
}

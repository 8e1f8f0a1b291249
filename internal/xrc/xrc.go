package xrc

import (
	"context"
	"errors"
	"sync"

	"github.com/Elliptic-DAO/elp-protocol/internal/emath"
)

// ExchangeRate is a quote as delivered by the rate oracle: an integer rate
// with an explicit decimal count, plus the oracle's timestamp in seconds.
type ExchangeRate struct {
	Rate      uint64
	Decimals  uint32
	Timestamp uint64
}

// RateE8s normalizes the quote to 8 implied decimals.
func (r ExchangeRate) RateE8s() uint64 {
	return emath.ToE8s(r.Rate, r.Decimals)
}

// Client fetches the ICP/USD exchange rate from an external oracle.
type Client interface {
	GetIcpRate(ctx context.Context) (ExchangeRate, error)
}

// ErrNoRate is returned when the oracle has no quote to serve.
var ErrNoRate = errors.New("xrc: no exchange rate available")

// StaticOracle serves a settable rate. Used in tests and local development.
type StaticOracle struct {
	mu   sync.Mutex
	rate ExchangeRate
	err  error
	set  bool
}

var _ Client = (*StaticOracle)(nil)

// NewStaticOracle returns an oracle quoting rateE8s at the given timestamp.
func NewStaticOracle(rateE8s uint64, timestamp uint64) *StaticOracle {
	o := &StaticOracle{}
	o.SetRate(rateE8s, timestamp)
	return o
}

func (o *StaticOracle) SetRate(rateE8s uint64, timestamp uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rate = ExchangeRate{Rate: rateE8s, Decimals: 8, Timestamp: timestamp}
	o.err = nil
	o.set = true
}

// FailWith makes subsequent fetches return err until the next SetRate.
func (o *StaticOracle) FailWith(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *StaticOracle) GetIcpRate(context.Context) (ExchangeRate, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return ExchangeRate{}, o.err
	}
	if !o.set {
		return ExchangeRate{}, ErrNoRate
	}
	return o.rate, nil
}

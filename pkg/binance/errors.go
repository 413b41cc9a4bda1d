package binance

import "errors"

var (
	// ErrInvalidMarket is returned by New for anything but spot/futures.
	ErrInvalidMarket = errors.New("binance: market must be spot or futures")
	// ErrAlreadyRunning is returned when Run is called while another Run is active.
	ErrAlreadyRunning = errors.New("binance: client is already running")
	// ErrConnectionInactive is reported by a Conn that was closed locally.
	ErrConnectionInactive = errors.New("binance: connection inactive")
)

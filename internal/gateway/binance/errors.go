package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"spotpilot/internal/gateway/exchange"
	"spotpilot/internal/pkg/circuit"

	"github.com/adshao/go-binance/v2/common"
)

// error codes, see https://developers.binance.com/docs/binance-spot-api-docs/errors
const (
	codeUnknown        = -1000
	codeDisconnected   = -1001
	codeTooManyReqs    = -1003
	codeUnexpectedResp = -1006
	codeTimeout        = -1007
	codeOverloaded     = -1008
	codeTimestamp      = -1021
	codeNoSuchOrder    = -2013
	codeBadAPIKey      = -2014
	codeRejectedMBXKey = -2015
)

var transientCodes = map[int64]bool{
	0:                  true, // body was not a Binance error document (gateway 5xx page etc.)
	codeUnknown:        true,
	codeDisconnected:   true,
	codeTooManyReqs:    true,
	codeUnexpectedResp: true,
	codeTimeout:        true,
	codeOverloaded:     true,
	codeTimestamp:      true,
}

// classify maps SDK and transport errors onto the exchange error taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exchange.ErrTransient) || errors.Is(err, exchange.ErrMalformed) ||
		errors.Is(err, exchange.ErrNotFound) || errors.Is(err, exchange.ErrUnauthenticated) {
		return err
	}
	var rej *exchange.RejectedError
	if errors.As(err, &rej) {
		return err
	}
	if errors.Is(err, circuit.ErrOpen) {
		return fmt.Errorf("%w: %s: %w", exchange.ErrTransient, op, err)
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case transientCodes[apiErr.Code]:
			return fmt.Errorf("%w: %s: code=%d %s", exchange.ErrTransient, op, apiErr.Code, apiErr.Message)
		case apiErr.Code == codeNoSuchOrder:
			return fmt.Errorf("%w: %s: %s", exchange.ErrNotFound, op, apiErr.Message)
		case apiErr.Code == codeBadAPIKey || apiErr.Code == codeRejectedMBXKey:
			return fmt.Errorf("%w: %s: %s", exchange.ErrUnauthenticated, op, apiErr.Message)
		default:
			return &exchange.RejectedError{Code: apiErr.Code, Message: apiErr.Message}
		}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return fmt.Errorf("%w: %s: %v", exchange.ErrMalformed, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %v", exchange.ErrTransient, op, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// anything else came from the transport layer
	return fmt.Errorf("%w: %s: %v", exchange.ErrTransient, op, err)
}

// Package factory constructs exchange adapters by name.
package factory

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"exchange-hub/config"
	"exchange-hub/internal/exchange"
	"exchange-hub/internal/exchange/bingx"
	"exchange-hub/internal/exchange/bitmart"
)

// SupportedExchanges lists the adapter names the factory can build, sorted.
func SupportedExchanges() []string {
	names := []string{bitmart.Name, bingx.Name}
	sort.Strings(names)
	return names
}

// Build constructs the adapter for name with the given credentials. When
// cfg.Simulation is set the adapter is wrapped so orders and withdrawals are
// synthesized instead of submitted.
func Build(name string, cfg config.ExchangeConfig, creds exchange.Credentials, logger zerolog.Logger) (exchange.Exchange, error) {
	var ex exchange.Exchange
	switch name {
	case bitmart.Name:
		ex = bitmart.NewAdapter(bitmart.NewClient(cfg.BaseURL, creds), logger)
	case bingx.Name:
		ex = bingx.NewAdapter(bingx.NewClient(cfg.BaseURL, creds), logger)
	default:
		return nil, fmt.Errorf("unsupported exchange %q", name)
	}

	if cfg.Simulation {
		return exchange.NewSimulationMode(ex, logger), nil
	}
	return ex, nil
}

// BuildFromConfig constructs the adapter using the credentials embedded in
// the config entry. Production paths resolve per-user credentials from Vault
// and call Build directly.
func BuildFromConfig(name string, cfg config.ExchangeConfig, logger zerolog.Logger) (exchange.Exchange, error) {
	creds := exchange.Credentials{
		Key:        cfg.Key,
		Secret:     cfg.Secret,
		Passphrase: cfg.Passphrase,
	}
	return Build(name, cfg, creds, logger)
}

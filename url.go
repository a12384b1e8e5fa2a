package dbpool

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"dbpool/pool"
)

// ParsePoolConfig extracts the six framework-recognized pool parameters
// from a URL's query values (spec §6), applying pool.DefaultConfig for
// anything absent. Drivers call this from their PoolOptions method and
// then layer their own scheme-specific parameters over the result; the
// returned url.Values holds whatever params were not recognized, which
// drivers are free to interpret themselves.
func ParsePoolConfig(params url.Values) (pool.Config, url.Values, error) {
	cfg := pool.DefaultConfig()
	remaining := url.Values{}
	for k, v := range params {
		remaining[k] = v
	}

	intParam := func(name string, dst *int) error {
		v := remaining.Get(name)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("dbpool: %s: %w", name, err)
		}
		*dst = n
		remaining.Del(name)
		return nil
	}
	secondsParam := func(name string, dst *time.Duration) error {
		v := remaining.Get(name)
		if v == "" {
			return nil
		}
		secs, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("dbpool: %s: %w", name, err)
		}
		*dst = time.Duration(secs * float64(time.Second))
		remaining.Del(name)
		return nil
	}

	for _, step := range []func() error{
		func() error { return intParam("initial_pool_size", &cfg.InitialPoolSize) },
		func() error { return intParam("max_pool_size", &cfg.MaxPoolSize) },
		func() error { return intParam("max_idle_pool_size", &cfg.MaxIdlePoolSize) },
		func() error { return secondsParam("checkout_timeout", &cfg.CheckoutTimeout) },
		func() error { return intParam("retry_attempts", &cfg.RetryAttempts) },
		func() error { return secondsParam("retry_delay", &cfg.RetryDelay) },
	} {
		if err := step(); err != nil {
			return pool.Config{}, nil, err
		}
	}

	return cfg, remaining, nil
}

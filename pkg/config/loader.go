package config

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var (
	cacheMu    sync.RWMutex
	cache      = make(map[string]any)
	dotenvOnce sync.Once
)

// Load parses environment variables into the provided configuration struct.
// The default .env file is loaded once per process before the first parse;
// a missing file is not an error. Each configuration type is parsed at most
// once and cached, so repeated calls for the same type are cheap and return
// identical values.
//
// Example:
//
//	type BillingConfig struct {
//		StripeSecretKey string `env:"STRIPE_SECRET_KEY,required"`
//		TrialHours      int    `env:"BILLING_TRIAL_HOURS" envDefault:"96"`
//	}
//
//	var cfg BillingConfig
//	if err := config.Load(&cfg); err != nil { ... }
func Load[T any](v *T) error {
	if v == nil {
		return ErrNilPointer
	}

	dotenvOnce.Do(func() {
		// The .env file is optional; real environment variables win regardless.
		_ = godotenv.Load()
	})

	key := typeName[T]()

	cacheMu.RLock()
	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		cacheMu.RUnlock()
		return nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Another goroutine may have parsed the type while we were waiting.
	if cached, ok := cache[key]; ok {
		*v = cached.(T)
		return nil
	}

	if err := env.Parse(v); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	cache[key] = *v // store a copy to avoid external modifications
	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
// Use it for configuration without which the application cannot start.
func MustLoad[T any](v *T) {
	if err := Load(v); err != nil {
		panic(fmt.Sprintf("config: failed to load required configuration: %v", err))
	}
}

// typeName returns a string identifier for the generic type T.
func typeName[T any]() string {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		return fmt.Sprintf("%T", *new(T))
	}
	return t.String()
}

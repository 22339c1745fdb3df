package settings

import (
	"net/url"
	"strconv"
	"time"

	safeconversion "github.com/bsv-blockchain/go-safe-conversion"
	"github.com/ordishs/gocore"
)

func getString(key, defaultValue string) string {
	value, found := gocore.Config().Get(key)
	if !found {
		return defaultValue
	}

	return value
}

func getInt(key string, defaultValue int) int {
	value, found := gocore.Config().GetInt(key)
	if !found {
		return defaultValue
	}

	return value
}

func getInt64(key string, defaultValue int64) int64 {
	return int64(getInt(key, int(defaultValue)))
}

// getUint64 falls back to the default for negative values.
func getUint64(key string, defaultValue uint64) uint64 {
	value, found := gocore.Config().GetInt(key)
	if !found {
		return defaultValue
	}

	u, err := safeconversion.IntToUint64(value)
	if err != nil {
		return defaultValue
	}

	return u
}

func getFloat64(key string, defaultValue float64) float64 {
	value, found := gocore.Config().Get(key)
	if !found {
		return defaultValue
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return f
}

func getURL(key, defaultValue string) *url.URL {
	value, _, _ := gocore.Config().GetURL(key, defaultValue)

	return value
}

func getBool(key string, defaultValue bool) bool {
	return gocore.Config().GetBool(key, defaultValue)
}

// getDuration accepts Go duration strings ("90s", "12h"). Invalid values fall back to the default.
func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, found := gocore.Config().Get(key)
	if !found || value == "" {
		return defaultValue
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return d
}

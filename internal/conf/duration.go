package conf

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that reads and writes as a human string
// ("800ms", "5m"). Bare numbers are taken as whole seconds so that
// `launch_ttl: 30` in a config file means thirty seconds.
type Duration time.Duration

// Std converts to a standard time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := parseDurationValue(v)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("expected scalar duration value, got %v", value.Kind)
	}
	parsed, err := parseDurationString(value.Value)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func parseDurationValue(v any) (Duration, error) {
	switch value := v.(type) {
	case string:
		return parseDurationString(value)
	case float64:
		return Duration(time.Duration(value * float64(time.Second))), nil
	case int:
		return Duration(time.Duration(value) * time.Second), nil
	case int64:
		return Duration(time.Duration(value) * time.Second), nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("invalid duration value: %v (type %T)", v, v)
	}
}

func parseDurationString(s string) (Duration, error) {
	if parsed, err := time.ParseDuration(s); err == nil {
		return Duration(parsed), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Duration(time.Duration(secs) * time.Second), nil
	}
	return 0, fmt.Errorf("invalid duration %q: expected format like \"800ms\" or \"5m\"", s)
}

var durationType = reflect.TypeFor[Duration]()

// DurationDecodeHook lets viper decode strings and numbers into Duration
// fields. Viper's stock hooks only know about time.Duration.
func DurationDecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(func(_, to reflect.Type, data any) (any, error) {
			if to != durationType {
				return data, nil
			}
			return parseDurationValue(data)
		}),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

package axon

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/USA-RedDragon/axon/internal/axonerr"
)

// SetOption configures an endpoint before Start. Unknown option names
// return InvalidArgument without disturbing any other state (spec
// section 7). Every JSON-shaped input (advertisement and the four topic
// lists) is deep-copied so the caller remains the owner of its original
// value (spec section 9).
func (e *Endpoint) SetOption(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateReleased {
		return axonerr.New(axonerr.InvalidState, "SetOption", fmt.Errorf("endpoint released"))
	}
	if e.state != StateNew && e.state != StateConfigured {
		return axonerr.New(axonerr.InvalidState, "SetOption", fmt.Errorf("cannot set options once started"))
	}

	switch name {
	case "namespace":
		s, ok := value.(string)
		if !ok {
			return invalidOption(name)
		}
		e.namespace = s
	case "useHostNames":
		b, ok := value.(bool)
		if !ok {
			return invalidOption(name)
		}
		e.useHostNames = b
	case "advertisement":
		merged, err := deepCopyJSONObject(value)
		if err != nil {
			return axonerr.New(axonerr.InvalidArgument, "SetOption", err)
		}
		for k, v := range merged {
			e.extraAdvertisement[k] = v
		}
	case "broadcasts":
		list, err := deepCopyStringSlice(value)
		if err != nil {
			return axonerr.New(axonerr.InvalidArgument, "SetOption", err)
		}
		e.broadcasts = list
	case "subscribesTo":
		list, err := deepCopyStringSlice(value)
		if err != nil {
			return axonerr.New(axonerr.InvalidArgument, "SetOption", err)
		}
		e.subscribesTo = list
	case "requests":
		list, err := deepCopyStringSlice(value)
		if err != nil {
			return axonerr.New(axonerr.InvalidArgument, "SetOption", err)
		}
		e.requests = list
	case "respondsTo":
		list, err := deepCopyStringSlice(value)
		if err != nil {
			return axonerr.New(axonerr.InvalidArgument, "SetOption", err)
		}
		e.respondsTo = list

	// Discovery-forwarded options (spec section 4.3).
	case "helloInterval":
		d, err := durationOption(value)
		if err != nil {
			return err
		}
		e.discoveryCfg.HelloInterval = d
	case "checkInterval":
		d, err := durationOption(value)
		if err != nil {
			return err
		}
		e.discoveryCfg.CheckInterval = d
	case "nodeTimeout":
		d, err := durationOption(value)
		if err != nil {
			return err
		}
		e.discoveryCfg.NodeTimeout = d
	case "masterTimeout":
		d, err := durationOption(value)
		if err != nil {
			return err
		}
		e.discoveryCfg.MasterTimeout = d
	case "address":
		s, ok := value.(string)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.Address = s
	case "port":
		n, ok := intOption(value)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.Port = n
	case "broadcast":
		s, ok := value.(string)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.Broadcast = s
	case "multicast":
		s, ok := value.(string)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.Multicast = s
	case "multicastTTL":
		n, ok := intOption(value)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.MulticastTTL = n
	case "unicast":
		list, err := deepCopyStringSlice(value)
		if err != nil {
			return axonerr.New(axonerr.InvalidArgument, "SetOption", err)
		}
		e.discoveryCfg.Unicast = list
	case "key":
		s, ok := value.(string)
		if !ok {
			return invalidOption(name)
		}
		e.key = s
		e.discoveryCfg.Key = s
	case "mastersRequired":
		n, ok := intOption(value)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.MastersRequired = n
	case "weight":
		n, ok := intOption(value)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.Weight = n
	case "client":
		b, ok := value.(bool)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.Client = b
	case "reuseAddr":
		b, ok := value.(bool)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.ReuseAddr = b
	case "ignoreProcess":
		b, ok := value.(bool)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.IgnoreProcess = b
	case "ignoreInstance":
		b, ok := value.(bool)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.IgnoreInstance = b
	case "hostname":
		s, ok := value.(string)
		if !ok {
			return invalidOption(name)
		}
		e.discoveryCfg.Hostname = s

	default:
		return axonerr.New(axonerr.InvalidArgument, "SetOption", fmt.Errorf("unknown option %q", name))
	}

	e.state = StateConfigured
	return nil
}

// Advertise merges payload into the endpoint's advertisement, deep-copied
// the same way SetOption("advertisement", payload) does (spec section
// 4.5's "advertise(payload)" operation — a named shorthand for that
// option rather than a distinct code path).
func (e *Endpoint) Advertise(payload any) error {
	return e.SetOption("advertisement", payload)
}

func invalidOption(name string) error {
	return axonerr.New(axonerr.InvalidArgument, "SetOption", fmt.Errorf("bad value type for option %q", name))
}

func durationOption(value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		return v, nil
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v) * time.Millisecond, nil
	default:
		return 0, axonerr.New(axonerr.InvalidArgument, "SetOption", fmt.Errorf("duration option requires a number of milliseconds or time.Duration"))
	}
}

func intOption(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// deepCopyJSONObject takes a map[string]any or a JSON-object string/[]byte
// and returns an independent copy via a marshal/unmarshal round trip
// (spec section 9).
func deepCopyJSONObject(value any) (map[string]any, error) {
	data, err := toJSONBytes(value)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("advertisement must be a JSON object: %w", err)
	}
	return out, nil
}

// deepCopyStringSlice takes a []string or a JSON-array string/[]byte and
// returns an independent copy.
func deepCopyStringSlice(value any) ([]string, error) {
	if list, ok := value.([]string); ok {
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	}
	data, err := toJSONBytes(value)
	if err != nil {
		return nil, err
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("topic list must be a JSON string array: %w", err)
	}
	return out, nil
}

func toJSONBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("marshal option value: %w", err)
		}
		return data, nil
	}
}

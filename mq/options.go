// File: mq/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket options. Values are validated against the closed option table
// of package api; typed setters wrap SetOption.

package mq

import (
	"sync"
	"time"

	"github.com/momentics/hioload-mq/api"
	"github.com/momentics/hioload-mq/control"
	"github.com/momentics/hioload-mq/core/queue"
	"github.com/momentics/hioload-mq/internal/pattern"
)

// maxIdentity is the longest identity the READY property can carry.
const maxIdentity = 255

type optionValues struct {
	sndHWM, rcvHWM         int
	hwmBytes               bool
	sndPolicy, rcvPolicy   api.HWMPolicy
	linger                 time.Duration
	sndTimeout, rcvTimeout time.Duration
	reconnectIvl           time.Duration
	reconnectIvlMax        time.Duration
	identity               []byte
	maxMsgSize             int64
	lastEndpoint           string
}

type options struct {
	mu sync.Mutex
	v  optionValues
}

func newOptions(cfg control.Config) *options {
	return &options{v: optionValues{
		sndHWM:          cfg.SndHWM,
		rcvHWM:          cfg.RcvHWM,
		sndPolicy:       api.Block,
		rcvPolicy:       api.Block,
		linger:          cfg.Linger,
		sndTimeout:      api.Infinite,
		rcvTimeout:      api.Infinite,
		reconnectIvl:    cfg.ReconnectIvl,
		reconnectIvlMax: cfg.ReconnectIvlMax,
		maxMsgSize:      cfg.MaxMsgSize,
	}}
}

func (o *options) snapshot() optionValues {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := o.v
	v.identity = append([]byte(nil), o.v.identity...)
	return v
}

func (o *options) update(fn func(v *optionValues)) {
	o.mu.Lock()
	fn(&o.v)
	o.mu.Unlock()
}

func (o *options) rcvPolicy() api.HWMPolicy {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.v.rcvPolicy
}

func (o *options) setLastEndpoint(ep string) {
	o.update(func(v *optionValues) { v.lastEndpoint = ep })
}

func accounting(bytes bool) queue.Accounting {
	if bytes {
		return queue.CountBytes
	}
	return queue.CountMessages
}

func (o *options) sendQueueConfig() queue.Config {
	v := o.snapshot()
	return queue.Config{HWM: v.sndHWM, Accounting: accounting(v.hwmBytes), Policy: v.sndPolicy}
}

func (o *options) recvQueueConfig() queue.Config {
	v := o.snapshot()
	return queue.Config{HWM: v.rcvHWM, Accounting: accounting(v.hwmBytes), Policy: v.rcvPolicy}
}

func badValue(opt api.Option, value any) error {
	return api.Errorf(api.KindInvalidArgument, "setsockopt", "%s: unsupported value %v (%T)", opt, value, value)
}

func toInt(opt api.Option, value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint32:
		return int(v), nil
	}
	return 0, badValue(opt, value)
}

func toBool(opt api.Option, value any) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	}
	return false, badValue(opt, value)
}

func toBytes(opt api.Option, value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return append([]byte(nil), v...), nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	}
	return nil, badValue(opt, value)
}

// toDuration accepts a time.Duration or an integer count of milliseconds,
// where -1 means api.Infinite.
func toDuration(opt api.Option, value any) (time.Duration, error) {
	switch v := value.(type) {
	case time.Duration:
		if v < 0 {
			return api.Infinite, nil
		}
		return v, nil
	case int:
		if v < 0 {
			return api.Infinite, nil
		}
		return time.Duration(v) * time.Millisecond, nil
	}
	return 0, badValue(opt, value)
}

func toPolicy(opt api.Option, value any) (api.HWMPolicy, error) {
	switch v := value.(type) {
	case api.HWMPolicy:
		if v.String() == "unknown" {
			return 0, badValue(opt, value)
		}
		return v, nil
	case string:
		return api.ParseHWMPolicy(v)
	}
	return 0, badValue(opt, value)
}

// SetOption sets a socket option. The value's Go type must match the
// option kind: int, bool, []byte (or string), time.Duration (or int
// milliseconds) and api.HWMPolicy (or its name).
func (s *Socket) SetOption(opt api.Option, value any) error {
	if err := s.usable("setsockopt"); err != nil {
		return err
	}
	info, ok := opt.Info()
	if !ok {
		return api.Errorf(api.KindInvalidArgument, "setsockopt", "unknown option %d", int(opt))
	}
	if info.ReadOnly {
		return api.Errorf(api.KindInvalidArgument, "setsockopt", "%s is read-only", info.Name)
	}

	switch opt {
	case api.OptSndHWM, api.OptRcvHWM, api.OptHWM:
		n, err := toInt(opt, value)
		if err != nil {
			return err
		}
		if n < 0 {
			return badValue(opt, value)
		}
		s.opts.update(func(v *optionValues) {
			if opt != api.OptRcvHWM {
				v.sndHWM = n
			}
			if opt != api.OptSndHWM {
				v.rcvHWM = n
			}
		})
		s.applyQueueConfig()
	case api.OptHWMBytes:
		b, err := toBool(opt, value)
		if err != nil {
			return err
		}
		s.opts.update(func(v *optionValues) { v.hwmBytes = b })
		s.applyQueueConfig()
	case api.OptSndHWMPolicy, api.OptRcvHWMPolicy:
		p, err := toPolicy(opt, value)
		if err != nil {
			return err
		}
		s.opts.update(func(v *optionValues) {
			if opt == api.OptSndHWMPolicy {
				v.sndPolicy = p
			} else {
				v.rcvPolicy = p
			}
		})
		s.applyQueueConfig()
	case api.OptLinger, api.OptSndTimeout, api.OptRcvTimeout:
		d, err := toDuration(opt, value)
		if err != nil {
			return err
		}
		s.opts.update(func(v *optionValues) {
			switch opt {
			case api.OptLinger:
				v.linger = d
			case api.OptSndTimeout:
				v.sndTimeout = d
			default:
				v.rcvTimeout = d
			}
		})
	case api.OptReconnectIvl, api.OptReconnectIvlMax:
		d, err := toDuration(opt, value)
		if err != nil {
			return err
		}
		if d < 0 {
			return badValue(opt, value)
		}
		s.opts.update(func(v *optionValues) {
			if opt == api.OptReconnectIvl {
				v.reconnectIvl = d
			} else {
				v.reconnectIvlMax = d
			}
		})
	case api.OptIdentity:
		id, err := toBytes(opt, value)
		if err != nil {
			return err
		}
		if len(id) > maxIdentity || (len(id) > 0 && id[0] == 0) {
			return api.Errorf(api.KindInvalidArgument, "setsockopt",
				"identity must be at most %d bytes and not start with a zero byte", maxIdentity)
		}
		s.opts.update(func(v *optionValues) { v.identity = id })
	case api.OptSubscribe, api.OptUnsubscribe:
		topic, err := toBytes(opt, value)
		if err != nil {
			return err
		}
		sub, ok := s.policy.(pattern.Subscriber)
		if !ok {
			return api.Errorf(api.KindInvalidArgument, "setsockopt", "%s needs a SUB socket", info.Name)
		}
		return s.exec(func() {
			if opt == api.OptSubscribe {
				sub.Subscribe(topic)
			} else {
				sub.Unsubscribe(topic)
			}
		})
	case api.OptRouterMandatory, api.OptReqRelaxed:
		b, err := toBool(opt, value)
		if err != nil {
			return err
		}
		if opt == api.OptRouterMandatory {
			s.flags.RouterMandatory.Store(b)
		} else {
			s.flags.ReqRelaxed.Store(b)
		}
	case api.OptMaxMsgSize:
		n, err := toInt(opt, value)
		if err != nil {
			return err
		}
		s.opts.update(func(v *optionValues) { v.maxMsgSize = int64(n) })
	default:
		return api.Errorf(api.KindNotSupported, "setsockopt", "%s", info.Name)
	}
	return nil
}

// applyQueueConfig pushes HWM changes into both queues and wakes stalled
// connections in case the receive side grew.
func (s *Socket) applyQueueConfig() {
	s.outQ.SetConfig(s.opts.sendQueueConfig())
	s.inQ.SetConfig(s.opts.recvQueueConfig())
	s.scheduleResume()
}

// GetOption reads a socket option.
func (s *Socket) GetOption(opt api.Option) (any, error) {
	info, ok := opt.Info()
	if !ok {
		return nil, api.Errorf(api.KindInvalidArgument, "getsockopt", "unknown option %d", int(opt))
	}
	if info.WriteOnly {
		return nil, api.Errorf(api.KindInvalidArgument, "getsockopt", "%s is write-only", info.Name)
	}
	v := s.opts.snapshot()
	switch opt {
	case api.OptSndHWM, api.OptHWM:
		return v.sndHWM, nil
	case api.OptRcvHWM:
		return v.rcvHWM, nil
	case api.OptHWMBytes:
		return v.hwmBytes, nil
	case api.OptSndHWMPolicy:
		return v.sndPolicy, nil
	case api.OptRcvHWMPolicy:
		return v.rcvPolicy, nil
	case api.OptLinger:
		return v.linger, nil
	case api.OptSndTimeout:
		return v.sndTimeout, nil
	case api.OptRcvTimeout:
		return v.rcvTimeout, nil
	case api.OptReconnectIvl:
		return v.reconnectIvl, nil
	case api.OptReconnectIvlMax:
		return v.reconnectIvlMax, nil
	case api.OptIdentity:
		return v.identity, nil
	case api.OptRouterMandatory:
		return s.flags.RouterMandatory.Load(), nil
	case api.OptReqRelaxed:
		return s.flags.ReqRelaxed.Load(), nil
	case api.OptMaxMsgSize:
		return int(v.maxMsgSize), nil
	case api.OptType:
		return s.typ.String(), nil
	case api.OptRcvMore:
		return s.rcvMore, nil
	case api.OptEvents:
		return int(s.Events()), nil
	case api.OptLastEndpoint:
		return v.lastEndpoint, nil
	}
	return nil, api.Errorf(api.KindNotSupported, "getsockopt", "%s", info.Name)
}

// SetOptionByName resolves name (e.g. "SNDHWM") and sets it.
func (s *Socket) SetOptionByName(name string, value any) error {
	opt, err := api.OptionByName(name)
	if err != nil {
		return err
	}
	return s.SetOption(opt, value)
}

// SetInt sets an integer option.
func (s *Socket) SetInt(opt api.Option, n int) error { return s.SetOption(opt, n) }

// SetBool sets a boolean option.
func (s *Socket) SetBool(opt api.Option, b bool) error { return s.SetOption(opt, b) }

// SetBytes sets a byte-string option such as OptIdentity or OptSubscribe.
func (s *Socket) SetBytes(opt api.Option, b []byte) error { return s.SetOption(opt, b) }

// SetDuration sets a timeout or interval option.
func (s *Socket) SetDuration(opt api.Option, d time.Duration) error { return s.SetOption(opt, d) }

// Subscribe is shorthand for SetBytes(api.OptSubscribe, topic).
func (s *Socket) Subscribe(topic []byte) error { return s.SetOption(api.OptSubscribe, topic) }

// Unsubscribe is shorthand for SetBytes(api.OptUnsubscribe, topic).
func (s *Socket) Unsubscribe(topic []byte) error { return s.SetOption(api.OptUnsubscribe, topic) }

// GetInt reads an integer option.
func (s *Socket) GetInt(opt api.Option) (int, error) {
	v, err := s.GetOption(opt)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, api.Errorf(api.KindInvalidArgument, "getsockopt", "%s is not an integer option", opt)
	}
	return n, nil
}

// GetBool reads a boolean option.
func (s *Socket) GetBool(opt api.Option) (bool, error) {
	v, err := s.GetOption(opt)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, api.Errorf(api.KindInvalidArgument, "getsockopt", "%s is not a boolean option", opt)
	}
	return b, nil
}

// GetDuration reads a duration option.
func (s *Socket) GetDuration(opt api.Option) (time.Duration, error) {
	v, err := s.GetOption(opt)
	if err != nil {
		return 0, err
	}
	d, ok := v.(time.Duration)
	if !ok {
		return 0, api.Errorf(api.KindInvalidArgument, "getsockopt", "%s is not a duration option", opt)
	}
	return d, nil
}

// GetString reads a string option (OptType, OptLastEndpoint).
func (s *Socket) GetString(opt api.Option) (string, error) {
	v, err := s.GetOption(opt)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", api.Errorf(api.KindInvalidArgument, "getsockopt", "%s is not a string option", opt)
	}
	return str, nil
}

// LastEndpoint returns the endpoint of the last Bind or Connect.
func (s *Socket) LastEndpoint() string {
	return s.opts.snapshot().lastEndpoint
}

//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Fallback poller for platforms without epoll: posted tasks and timers
// work, descriptor registration reports ErrNotSupported.

package reactor

import "time"

type chanPoller struct {
	wakeCh chan struct{}
}

func newPoller() (poller, error) {
	return &chanPoller{wakeCh: make(chan struct{}, 1)}, nil
}

func (p *chanPoller) add(int, Events) error { return ErrNotSupported }
func (p *chanPoller) mod(int, Events) error { return ErrNotSupported }
func (p *chanPoller) del(int) error         { return ErrNotSupported }

func (p *chanPoller) wait(timeoutMs int, _ func(int, Events)) error {
	if timeoutMs == 0 {
		select {
		case <-p.wakeCh:
		default:
		}
		return nil
	}
	if timeoutMs < 0 {
		<-p.wakeCh
		return nil
	}
	t := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer t.Stop()
	select {
	case <-p.wakeCh:
	case <-t.C:
	}
	return nil
}

func (p *chanPoller) wake() error {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

func (p *chanPoller) close() error { return nil }

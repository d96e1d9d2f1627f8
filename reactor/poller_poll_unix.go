//go:build !linux && unix

// File: reactor/poller_poll_unix.go
// Package reactor
// Author: momentics <momentics@gmail.com>
//
// poll(2) backend for non-Linux unix platforms (darwin, the BSDs), second
// in the epoll > poll > select preference order.

package reactor

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type pollPoller struct {
	mu  sync.Mutex
	fds []int
}

func newPlatformPoller() (Poller, error) {
	return &pollPoller{}, nil
}

func (p *pollPoller) Register(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.fds {
		if existing == fd {
			return nil
		}
	}
	p.fds = append(p.fds, fd)
	return nil
}

func (p *pollPoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.fds {
		if existing == fd {
			p.fds = append(p.fds[:i], p.fds[i+1:]...)
			return nil
		}
	}
	return nil
}

func (p *pollPoller) Poll(interval time.Duration) ([]int, error) {
	p.mu.Lock()
	fds := make([]int, len(p.fds))
	copy(fds, p.fds)
	p.mu.Unlock()

	if len(fds) == 0 {
		time.Sleep(interval)
		return nil, nil
	}

	pollFds := make([]unix.PollFd, len(fds))
	for i, fd := range fds {
		pollFds[i] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	}

	timeoutMs := int(interval / time.Millisecond)
	n, err := unix.Poll(pollFds, timeoutMs)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reactor: poll: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	ready := make([]int, 0, n)
	for _, pfd := range pollFds {
		if pfd.Revents&(unix.POLLIN|unix.POLLPRI|unix.POLLERR|unix.POLLHUP) != 0 {
			ready = append(ready, int(pfd.Fd))
		}
	}
	return ready, nil
}

func (p *pollPoller) Release() error { return nil }

//go:build linux

// File: reactor/poller_epoll_linux.go
// Package reactor
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) backend — level-triggered registration (no EPOLLET)
// because the reactor only cares about "can I read without blocking", not
// edge transitions.

package reactor

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd int
}

func newPlatformPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &epollPoller{epfd: epfd}, nil
}

func (p *epollPoller) Register(fd int) error {
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLPRI, Fd: int32(fd)}
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
	if err == unix.EEXIST {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reactor: epoll_ctl add %d: %w", fd, err)
	}
	return nil
}

func (p *epollPoller) Unregister(fd int) error {
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	return nil
}

func (p *epollPoller) Poll(interval time.Duration) ([]int, error) {
	events := make([]unix.EpollEvent, 128)
	timeoutMs := int(interval / time.Millisecond)
	n, err := unix.EpollWait(p.epfd, events, timeoutMs)
	if err == unix.EINTR {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		ready = append(ready, int(events[i].Fd))
	}
	return ready, nil
}

func (p *epollPoller) Release() error {
	return unix.Close(p.epfd)
}

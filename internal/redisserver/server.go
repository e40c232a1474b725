// Copyright (C) 2018 Storj Labs, Inc.
// See LICENSE for copying information.

// Package redisserver starts redis servers for tests.
package redisserver

import (
	"bufio"
	"context"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/zeebo/errs"
)

// Error is the default redisserver error class.
var Error = errs.Class("redisserver")

// Start starts a redis-server when one is installed, otherwise an in-process miniredis.
func Start(ctx context.Context) (addr string, cleanup func(), err error) {
	if _, err := exec.LookPath("redis-server"); err == nil {
		addr, cleanup, err = Process(ctx)
		if err == nil {
			return addr, cleanup, nil
		}
	}
	return Mini()
}

// Process starts a redis-server process listening on a free local port.
func Process(ctx context.Context) (addr string, cleanup func(), err error) {
	dir, err := os.MkdirTemp("", "casper-redis")
	if err != nil {
		return "", nil, Error.Wrap(err)
	}

	port, err := freeport()
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	addr = net.JoinHostPort("127.0.0.1", strconv.Itoa(port))

	// redis only reads its configuration from a file
	conf := filepath.Join(dir, "test.conf")
	settings := strings.Join([]string{
		"daemonize no",
		"bind 127.0.0.1",
		"port " + strconv.Itoa(port),
		"save \"\"",
		"dir " + dir,
	}, "\n") + "\n"
	if err := os.WriteFile(conf, []byte(settings), 0644); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, Error.Wrap(err)
	}

	cmd := exec.CommandContext(ctx, "redis-server", conf)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, Error.Wrap(err)
	}
	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, Error.Wrap(err)
	}
	cleanup = func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		_ = os.RemoveAll(dir)
	}

	ready := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(stdout)
		signaled := false
		for scanner.Scan() {
			if !signaled && strings.Contains(scanner.Text(), "ready to accept") {
				close(ready)
				signaled = true
			}
		}
		if !signaled {
			close(ready)
		}
	}()

	select {
	case <-ready:
	case <-time.After(3 * time.Second):
		cleanup()
		return "", nil, Error.New("redis-server did not become ready")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	if err := client.Ping().Err(); err != nil {
		cleanup()
		return "", nil, Error.New("unable to ping: %v", err)
	}
	return addr, cleanup, nil
}

// Mini starts an in-process miniredis server.
func Mini() (addr string, cleanup func(), err error) {
	server, err := miniredis.Run()
	if err != nil {
		return "", nil, Error.Wrap(err)
	}
	return server.Addr(), server.Close, nil
}

func freeport() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, Error.Wrap(err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	return port, Error.Wrap(listener.Close())
}

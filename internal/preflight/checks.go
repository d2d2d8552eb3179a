package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sys/unix"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckNtfy verifies the ntfy server behind a topic URL answers its health
// endpoint.
func CheckNtfy(ctx context.Context, topicURL string) Result {
	const name = "ntfy"

	parsed, err := url.Parse(strings.TrimSpace(topicURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Result{Name: name, Detail: "invalid topic url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health := parsed.Scheme + "://" + parsed.Host + "/v1/health"
	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, health, nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%v)", err)}
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{Name: name, Detail: fmt.Sprintf("health check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckRedis pings the Redis server used for event fan-out.
func CheckRedis(ctx context.Context, addr, password string, db int) Result {
	const name = "Redis"

	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	defer client.Close()

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(checkCtx).Err(); err != nil {
		return Result{Name: name, Detail: summarizeNetError(err)}
	}
	return Result{Name: name, Passed: true, Detail: addr + " (ping ok)"}
}

func summarizeNetError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out (unreachable)"
	}
	return err.Error()
}

package broker

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
)

// DialFunc opens a connection for a URL whose scheme the backend registered.
type DialFunc func(ctx context.Context, rawURL string) (Conn, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DialFunc)
)

// Register makes a backend available under scheme. It panics on duplicates.
func Register(scheme string, dial DialFunc) {
	registryMu.Lock()
	defer registryMu.Unlock()

	scheme = strings.ToLower(scheme)
	if dial == nil {
		panic("broker: Register dial func is nil")
	}
	if _, dup := registry[scheme]; dup {
		panic("broker: Register called twice for scheme " + scheme)
	}
	registry[scheme] = dial
}

// Schemes lists registered URL schemes.
func Schemes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	out := make([]string, 0, len(registry))
	for s := range registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Dial opens a connection using the backend registered for rawURL's scheme.
func Dial(ctx context.Context, rawURL string) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, Terminal("dial", fmt.Errorf("parse broker url: %w", err))
	}

	registryMu.RLock()
	dial, ok := registry[strings.ToLower(u.Scheme)]
	registryMu.RUnlock()
	if !ok {
		return nil, Terminal("dial", fmt.Errorf("%w %q (registered: %s)", ErrUnknownScheme, u.Scheme, strings.Join(Schemes(), ", ")))
	}

	return dial(ctx, rawURL)
}

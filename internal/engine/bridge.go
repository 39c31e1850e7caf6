package engine

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"
)

// bridge relays the configured SOCKS port onto the fixed internal port the
// system engine daemon listens on. It exists so both engines expose the
// same local proxy address regardless of where the tunnel terminates.
type bridge struct {
	listener net.Listener
	target   string

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func startBridge(listenPort, targetPort int) (*bridge, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(listenPort)))
	if err != nil {
		return nil, fmt.Errorf("engine: bridge listen on %d: %w", listenPort, err)
	}
	b := &bridge{
		listener: ln,
		target:   net.JoinHostPort("127.0.0.1", strconv.Itoa(targetPort)),
	}
	b.wg.Add(1)
	go b.acceptLoop()
	return b, nil
}

func (b *bridge) acceptLoop() {
	defer b.wg.Done()
	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		b.wg.Add(1)
		go b.relay(conn)
	}
}

func (b *bridge) relay(client net.Conn) {
	defer b.wg.Done()
	defer client.Close()
	upstream, err := net.DialTimeout("tcp", b.target, 3*time.Second)
	if err != nil {
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(upstream, client)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(client, upstream)
		done <- struct{}{}
	}()
	<-done
}

func (b *bridge) stop() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.listener.Close()
	b.wg.Wait()
}

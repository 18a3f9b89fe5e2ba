package circuit

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/intcode/vm"
)

// Packet is a routed (destination, x, y) triple.
type Packet struct {
	Dest int
	X, Y vm.Word
}

func (p Packet) String() string {
	return fmt.Sprintf("%d<-(%d,%d)", p.Dest, p.X, p.Y)
}

// NetworkConfig tunes a Network.
type NetworkConfig struct {
	// Size is the number of nodes, addressed 0..Size-1.
	Size int
	// Monitor is the address captured by the NAT.
	Monitor int
	// WakeAddress receives the NAT's packet when the network idles.
	WakeAddress int
	// IdleThreshold is how many consecutive empty input polls, with no
	// output or delivery in between, make a node idle.
	IdleThreshold int
	// PollInterval is how often the NAT checks for idleness.
	PollInterval time.Duration
	// MemoryLimit bounds each node's memory; zero is unlimited.
	MemoryLimit int
}

// DefaultNetworkConfig returns the classic 50-node layout.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Size:          50,
		Monitor:       255,
		WakeAddress:   0,
		IdleThreshold: 2,
		PollInterval:  time.Millisecond,
	}
}

func (c NetworkConfig) validate() error {
	switch {
	case c.Size < 1:
		return fmt.Errorf("%w: network size %d", ErrTopology, c.Size)
	case c.Monitor < 0:
		return fmt.Errorf("%w: monitor address %d is negative", ErrTopology, c.Monitor)
	case c.Monitor < c.Size:
		return fmt.Errorf("%w: monitor address %d collides with a node", ErrTopology, c.Monitor)
	case c.WakeAddress < 0 || c.WakeAddress >= c.Size:
		return fmt.Errorf("%w: wake address %d outside 0..%d", ErrTopology, c.WakeAddress, c.Size-1)
	case c.IdleThreshold < 1:
		return fmt.Errorf("%w: idle threshold %d", ErrTopology, c.IdleThreshold)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval %s", ErrTopology, c.PollInterval)
	}
	return nil
}

// NetworkResult summarises a network run.
type NetworkResult struct {
	// First is the first packet addressed to the monitor.
	First Packet
	// Repeated is the wake-up packet whose X and Y matched the previous
	// wake-up.
	Repeated Packet
	// Wakeups counts packets the NAT injected, including the repeat.
	Wakeups int
}

// Network runs one engine per node. Each engine's ports are a NIC that
// turns outputs into packets and answers input requests from a queue of
// received packets, or with -1 when that queue is empty.
type Network struct {
	cfg  NetworkConfig
	prog *vm.Memory
	nics []*nic

	// activity advances on every output word and every delivery, so the
	// NAT can tell whether an idle scan raced with traffic.
	activity atomic.Uint64

	monMu   sync.Mutex
	monitor []Packet
}

// NewNetwork prepares a network running prog on every node.
func NewNetwork(prog *vm.Memory, cfg NetworkConfig) (*Network, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	nw := &Network{cfg: cfg, prog: prog}
	nw.nics = make([]*nic, cfg.Size)
	for i := range nw.nics {
		nw.nics[i] = &nic{addr: i, net: nw}
	}
	return nw, nil
}

// Run boots every node and arbitrates until the NAT wakes the network with
// the same Y twice in a row. A node error fails the run.
func (nw *Network) Run(ctx context.Context) (NetworkResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	nodes, stop := context.WithCancel(gctx)
	defer stop()
	var finished atomic.Bool

	for _, n := range nw.nics {
		n := n
		e := vm.NewEngine(n.addr, nw.prog.Clone(),
			vm.WithInput(n), vm.WithOutput(n), vm.WithMemoryLimit(nw.cfg.MemoryLimit))
		g.Go(func() error {
			_, err := e.Execute(nodes)
			if err == nil {
				n.halt()
				return nil
			}
			if finished.Load() && errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	var res NetworkResult
	g.Go(func() error {
		r, err := nw.arbitrate(gctx)
		if err != nil {
			return err
		}
		res = r
		finished.Store(true)
		stop()
		return nil
	})
	if err := g.Wait(); err != nil {
		return NetworkResult{}, err
	}
	return res, nil
}

func (nw *Network) arbitrate(ctx context.Context) (NetworkResult, error) {
	ticker := time.NewTicker(nw.cfg.PollInterval)
	defer ticker.Stop()

	var (
		res      NetworkResult
		held     Packet
		holding  bool
		seen     bool
		lastWake Packet
	)
	for {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}

		for _, p := range nw.takeMonitor() {
			if !seen {
				res.First = p
				seen = true
			}
			held, holding = p, true
		}
		if !holding {
			if nw.halted() {
				return res, ErrNoSignal
			}
			continue
		}
		if !nw.idle() {
			continue
		}

		wake := Packet{Dest: nw.cfg.WakeAddress, X: held.X, Y: held.Y}
		nw.nics[wake.Dest].deliver(wake)
		res.Wakeups++
		log.Info("network idle, waking node", "packet", wake.String(), "wakeups", res.Wakeups)
		if res.Wakeups > 1 && wake.X == lastWake.X && wake.Y == lastWake.Y {
			res.Repeated = wake
			return res, nil
		}
		lastWake = wake
	}
}

// idle reports whether every node is idle and no traffic happened during
// the scan.
func (nw *Network) idle() bool {
	gen := nw.activity.Load()
	for _, n := range nw.nics {
		if !n.idle(nw.cfg.IdleThreshold) {
			return false
		}
	}
	return nw.activity.Load() == gen
}

func (nw *Network) halted() bool {
	for _, n := range nw.nics {
		n.mu.Lock()
		h := n.halted
		n.mu.Unlock()
		if !h {
			return false
		}
	}
	return true
}

func (nw *Network) route(from int, p Packet) {
	switch {
	case p.Dest < 0:
		log.Warning("dropping packet for invalid address", "from", from, "packet", p.String())
	case p.Dest == nw.cfg.Monitor:
		nw.monMu.Lock()
		nw.monitor = append(nw.monitor, p)
		nw.monMu.Unlock()
	case p.Dest >= 0 && p.Dest < len(nw.nics):
		nw.nics[p.Dest].deliver(p)
	default:
		log.Warning("dropping packet for unknown address", "from", from, "packet", p.String())
	}
}

func (nw *Network) takeMonitor() []Packet {
	nw.monMu.Lock()
	defer nw.monMu.Unlock()
	out := nw.monitor
	nw.monitor = nil
	return out
}

// ---------------------------------------------------------------------------
// NIC: per-node port translator
// ---------------------------------------------------------------------------

type nic struct {
	addr int
	net  *Network

	mu     sync.Mutex
	booted bool
	halted bool
	inbox  []vm.Word
	empty  int

	// Output assembly; only touched by the node's own goroutine.
	pending [3]vm.Word
	filled  int
}

// Recv implements vm.Source. The first read yields the node's address;
// after that reads never block.
func (n *nic) Recv(ctx context.Context) (vm.Word, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n.mu.Lock()
	if !n.booted {
		n.booted = true
		n.mu.Unlock()
		return vm.Word(n.addr), nil
	}
	if len(n.inbox) > 0 {
		w := n.inbox[0]
		n.inbox = n.inbox[1:]
		n.empty = 0
		n.mu.Unlock()
		return w, nil
	}
	n.empty++
	n.mu.Unlock()
	runtime.Gosched()
	return -1, nil
}

// Send implements vm.Sink, assembling packets three words at a time.
func (n *nic) Send(ctx context.Context, w vm.Word) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	n.empty = 0
	n.mu.Unlock()
	n.net.activity.Add(1)

	n.pending[n.filled] = w
	n.filled++
	if n.filled < len(n.pending) {
		return nil
	}
	n.filled = 0
	dest := n.pending[0]
	p := Packet{Dest: -1, X: n.pending[1], Y: n.pending[2]}
	if dest >= 0 && dest <= vm.Word(int(^uint(0)>>1)) {
		p.Dest = int(dest)
	}
	n.net.route(n.addr, p)
	return nil
}

func (n *nic) deliver(p Packet) {
	n.mu.Lock()
	n.inbox = append(n.inbox, p.X, p.Y)
	n.empty = 0
	n.mu.Unlock()
	n.net.activity.Add(1)
}

func (n *nic) halt() {
	n.mu.Lock()
	n.halted = true
	n.mu.Unlock()
}

// idle reports whether the node is waiting on an empty inbox. A halted node
// never reads again and counts as idle.
func (n *nic) idle(threshold int) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.halted {
		return true
	}
	return n.booted && len(n.inbox) == 0 && n.empty >= threshold
}

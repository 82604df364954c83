// Command elvis-run is a small CLI front end over the core (spec §6):
// it does not parse NDL topologies (out of core scope) but exercises
// the engine entry point directly against a single hard-wired UDP
// topology (one sender, one capturing receiver), for smoke-testing a
// build against the engine API.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/core"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/definition"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/engine"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/message"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/network"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/protocols/ipv4"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/protocols/pci"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/protocols/udp"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/sched"
	"github.com/cs-wwu/srg-elvis-public/pkg/elvis/types"
)

var (
	debug      = kingpin.Flag("debug", "enable debug-level logging").Bool()
	workers    = kingpin.Flag("workers", "scheduler worker pool size").Default("8").Int()
	queueDepth = kingpin.Flag("queue-depth", "scheduler task queue depth").Default("256").Int()
	ndlPath    = kingpin.Flag("ndl", "path to an NDL topology file (not yet implemented; placeholder for the external parser)").String()
)

func main() {
	kingpin.Version("elvis-run (core smoke test)")
	kingpin.Parse()

	if *ndlPath != "" {
		fmt.Fprintln(os.Stderr, "elvis-run: NDL parsing is an external collaborator, not part of the core; ignoring --ndl")
	}

	log := definition.NewDefaultLogger()
	log.ToggleDebug(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log); err != nil {
		log.Errorf("elvis-run: %v", err)
		os.Exit(1)
	}
}

// pingApp sends one UDP datagram to target and exits.
type pingApp struct {
	target     netip.Addr
	targetPort uint16
	local      netip.Addr
	localPort  uint16
	payload    []byte
}

func (a pingApp) Run(ctx context.Context, m *core.Machine) error {
	ctl := types.NewControl().
		WithAddr(types.KeyLocalAddr, a.local).
		WithAddr(types.KeyRemoteAddr, a.target).
		WithPort(types.KeyLocalPort, a.localPort).
		WithPort(types.KeyRemotePort, a.targetPort)
	sess, err := m.Open(types.UDP, ctl)
	if err != nil {
		return err
	}
	defer sess.Close()
	return sess.Send(message.NewFromBytes(a.payload), types.NewControl())
}

// captureApp listens for one UDP datagram and reports it on received.
type captureApp struct {
	local     netip.Addr
	localPort uint16
	received  chan<- string
}

func (a captureApp) Run(ctx context.Context, m *core.Machine) error {
	done := make(chan struct{})
	err := m.Listen(types.UDP, udp.ListenKey{
		Local:     a.local,
		LocalPort: a.localPort,
		Accept: func(s *udp.Session) {
			s.OnReceive(func(msg *message.Message, ctl types.Control) {
				select {
				case a.received <- string(msg.Bytes()):
				default:
				}
				close(done)
			})
		},
	}, types.NewControl())
	if err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return nil
}

func run(ctx context.Context, log definition.Logger) error {
	scheduler := sched.New(*workers, *queueDepth, log)

	n := network.New("smoke", network.Config{MTU: 1500, Latency: time.Millisecond}, scheduler, log)
	tapSender := n.Attach()
	tapReceiver := n.Attach()

	senderAddr := netip.MustParseAddr("10.0.0.1")
	receiverAddr := netip.MustParseAddr("10.0.0.2")

	senderRoutes := ipv4.NewRoutingTable()
	senderRoutes.AddRoute(ipv4.Route{Prefix: netip.PrefixFrom(receiverAddr, 32), Slot: 0, PeerMAC: tapReceiver.MAC()})
	senderPCI := pci.New(log)
	if err := senderPCI.AttachTap(0, tapSender); err != nil {
		return err
	}
	sender, err := core.New("sender", log, senderPCI, ipv4.New(log, senderRoutes), udp.New(log))
	if err != nil {
		return err
	}

	receiverRoutes := ipv4.NewRoutingTable()
	receiverRoutes.AddRoute(ipv4.Route{Prefix: netip.PrefixFrom(senderAddr, 32), Slot: 0, PeerMAC: tapSender.MAC()})
	receiverPCI := pci.New(log)
	if err := receiverPCI.AttachTap(0, tapReceiver); err != nil {
		return err
	}
	receiver, err := core.New("receiver", log, receiverPCI, ipv4.New(log, receiverRoutes), udp.New(log))
	if err != nil {
		return err
	}

	received := make(chan string, 1)
	specs := []engine.MachineSpec{
		{Machine: receiver, Applications: []engine.Application{captureApp{local: receiverAddr, localPort: 9000, received: received}}},
		{Machine: sender, Applications: []engine.Application{pingApp{
			local: senderAddr, localPort: 4000,
			target: receiverAddr, targetPort: 9000,
			payload: []byte("Hello this is an awesome test message!"),
		}}},
	}

	if err := engine.Run(ctx, scheduler, log, []*network.Network{n}, specs, nil); err != nil {
		return err
	}

	select {
	case payload := <-received:
		log.Infof("elvis-run: receiver captured %q", payload)
	default:
		log.Warn("elvis-run: receiver captured nothing")
	}
	return nil
}

package swim_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"swim"
	"swim/internal/peer"
	"swim/internal/transport"
)

var _ = Describe("Node", func() {
	var (
		net    *transport.MemoryNetwork
		nodes  []*swim.Node
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		net = transport.NewMemoryNetwork()
		ctx, cancel = context.WithCancel(context.Background())
	})

	AfterEach(func() {
		cancel()
		for _, n := range nodes {
			_ = n.Teardown()
		}
		nodes = nil
	})

	buildCluster := func(n int) {
		seeds := make([]swim.Peer, n)
		for i := 0; i < n; i++ {
			seeds[i] = swim.Peer{ID: swim.PeerID(i + 1), Host: "node", Port: i + 1}
		}
		built := make([]*swim.Node, n)
		for i := 0; i < n; i++ {
			node := swim.New(swim.Config{
				SelfID:              seeds[i].ID,
				ProtocolPeriod:      20 * time.Millisecond,
				ProbeTimeout:        15 * time.Millisecond,
				SuspectTimeout:      30 * time.Millisecond,
				DisseminationFactor: 3,
				MaxPiggyback:        6,
			}, swim.WithTransport(net.New(seeds[i].Host, seeds[i].Port)))
			Expect(node.Init(seeds)).To(Succeed())
			built[i] = node
		}
		nodes = built
		for _, node := range built {
			node.Start(ctx)
		}
	}

	It("converges every node to alive knowledge of every other node", func() {
		buildCluster(4)

		Eventually(func() bool {
			for _, observer := range nodes {
				for id := 1; id <= 4; id++ {
					pid := swim.PeerID(id)
					status, ok := observer.PeerStatus(pid)
					if ok && status != peer.StatusAlive {
						return false
					}
				}
			}
			return true
		}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
	})

	It("marks a silent node suspect, then down, after it is stopped and torn down", func() {
		buildCluster(3)

		target := nodes[2]
		target.Stop()
		_ = target.Teardown()
		nodes = nodes[:2]

		Eventually(func() bool {
			status, ok := nodes[0].PeerStatus(swim.PeerID(3))
			return ok && status == peer.StatusSuspect
		}, time.Second, 10*time.Millisecond).Should(BeTrue())

		Eventually(func() bool {
			status, ok := nodes[0].PeerStatus(swim.PeerID(3))
			return ok && status == peer.StatusDown
		}, 2*time.Second, 10*time.Millisecond).Should(BeTrue())
	})
})

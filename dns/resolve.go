package dns

import (
	"errors"

	"github.com/rvkernel/netstack/kernel"
	"github.com/rvkernel/netstack/neterr"
	"github.com/rvkernel/netstack/netutil"
	"github.com/rvkernel/netstack/udp"
)

const dnsPort = 53

// Resolve implements spec.md §4.8's dns_resolve: open an ephemeral UDP PCB,
// send a query to server, and poll-wait (up to 100 iterations, matching the
// spec's fixed retry bound) for a matching response.
func Resolve(
	pcbs *udp.Table,
	out udp.OutputFunc,
	server netutil.Addr,
	name string,
	timeoutTicks kernel.Tick,
	clock kernel.Clock,
	yielder kernel.Yielder,
	poll func(),
) ([4]byte, error) {
	index, err := pcbs.Open()
	if err != nil {
		return [4]byte{}, err
	}

	defer pcbs.Close(index)

	if err := pcbs.Bind(index, netutil.Any, 0); err != nil {
		return [4]byte{}, err
	}

	query, id := Query(name)

	if err := pcbs.SendTo(out, index, server, dnsPort, query); err != nil {
		return [4]byte{}, err
	}

	deadline := clock.Now() + timeoutTicks

	const maxIterations = 100

	for iter := 0; iter < maxIterations; iter++ {
		poll()

		if _, srcPort, data, ok := pcbs.RecvFrom(index); ok && srcPort == dnsPort {
			resp, err := Parse(data, id)

			switch {
			case errors.Is(err, neterr.ErrNoMatchingPcb):
				// A reply to some other transaction id: drop it and keep waiting.
			case err != nil:
				return [4]byte{}, err
			default:
				for _, a := range resp.Answers {
					return a.IP, nil
				}

				return [4]byte{}, neterr.ErrNotFound
			}
		}

		if clock.Now() >= deadline {
			return [4]byte{}, neterr.ErrTimeout
		}

		yielder.Yield()
	}

	return [4]byte{}, neterr.ErrTimeout
}

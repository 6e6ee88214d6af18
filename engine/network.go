package engine

import (
	"fmt"
	"net"

	"github.com/miekg/dns"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/kgrahem/lanscout/internal"
	"github.com/kgrahem/lanscout/utilities"
)

var (
	// Multicast groups used by mDNS
	mdnsGroupIPv4 = net.IPv4(224, 0, 0, 251)
	mdnsGroupIPv6 = net.ParseIP("ff02::fb")

	// Wildcard bind addresses; port 5353 may already be shared with other
	// responders on the machine.
	mdnsWildcardAddrIPv4 = &net.UDPAddr{IP: net.ParseIP("224.0.0.0"), Port: mdnsPort}
	mdnsWildcardAddrIPv6 = &net.UDPAddr{IP: net.ParseIP("ff02::"), Port: mdnsPort}

	// mDNS endpoint addresses
	ipv4Addr = &net.UDPAddr{IP: mdnsGroupIPv4, Port: mdnsPort}
	ipv6Addr = &net.UDPAddr{IP: mdnsGroupIPv6, Port: mdnsPort}
)

// MARK: incomingMsg
type incomingMsg struct {
	msg  *dns.Msg
	from net.Addr
}

// MARK: netserver

// netserver owns the multicast sockets. Receive loops push unpacked messages
// onto msgCh for the engine run loop; nothing else reads the sockets.
type netserver struct {
	ipv4conn *net.UDPConn
	ipv6conn *net.UDPConn
	msgCh    chan *incomingMsg
	stopCh   chan struct{}
	logger   *internal.Logger
}

// MARK: newNetserver
// Binds the wildcard UDP sockets and joins the mDNS multicast groups on every
// eligible interface. Returns ErrEngineUnavailable when no socket could be
// bound, additionally matching ErrMulticastBlocked when sockets bound but
// every group join was refused.
func newNetserver(cfg Config, logger *internal.Logger) (*netserver, error) {
	interfaces, err := utilities.MulticastInterfaces(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("listing multicast interfaces: %w: %v", ErrEngineUnavailable, err)
	}

	var ipv4conn, ipv6conn *net.UDPConn
	if !cfg.DisableIPv4 {
		ipv4conn, err = net.ListenUDP("udp4", mdnsWildcardAddrIPv4)
		if err != nil {
			logger.Warn("Failed to bind udp4 mDNS socket", "error", err)
		}
	}
	if !cfg.DisableIPv6 {
		ipv6conn, err = net.ListenUDP("udp6", mdnsWildcardAddrIPv6)
		if err != nil {
			logger.Warn("Failed to bind udp6 mDNS socket", "error", err)
		}
	}
	if ipv4conn == nil && ipv6conn == nil {
		return nil, fmt.Errorf("binding mDNS sockets: %w", ErrEngineUnavailable)
	}

	joins, failures := 0, 0
	if ipv4conn != nil {
		p := ipv4.NewPacketConn(ipv4conn)
		_ = p.SetMulticastLoopback(true)
		for i := range interfaces {
			if err := p.JoinGroup(&interfaces[i], &net.UDPAddr{IP: mdnsGroupIPv4}); err != nil {
				failures++
			} else {
				joins++
			}
		}
	}
	if ipv6conn != nil {
		p := ipv6.NewPacketConn(ipv6conn)
		_ = p.SetMulticastLoopback(true)
		for i := range interfaces {
			if err := p.JoinGroup(&interfaces[i], &net.UDPAddr{IP: mdnsGroupIPv6}); err != nil {
				failures++
			} else {
				joins++
			}
		}
	}
	if joins == 0 {
		if ipv4conn != nil {
			ipv4conn.Close()
		}
		if ipv6conn != nil {
			ipv6conn.Close()
		}
		return nil, fmt.Errorf("joining mDNS groups on %d interface(s): %w: %w",
			len(interfaces), ErrEngineUnavailable, ErrMulticastBlocked)
	}

	logger.Debug("mDNS sockets ready",
		"interfaces", len(interfaces),
		"joins", joins,
		"join_failures", failures,
		"ipv4", ipv4conn != nil,
		"ipv6", ipv6conn != nil)

	return &netserver{
		ipv4conn: ipv4conn,
		ipv6conn: ipv6conn,
		msgCh:    make(chan *incomingMsg, 32),
		stopCh:   make(chan struct{}),
		logger:   logger,
	}, nil
}

// MARK: startReceiving
// Starts one receive loop per bound socket. done is called as each exits.
func (ns *netserver) startReceiving(done func()) {
	if ns.ipv4conn != nil {
		go func() {
			defer done()
			ns.recv(ns.ipv4conn)
		}()
	}
	if ns.ipv6conn != nil {
		go func() {
			defer done()
			ns.recv(ns.ipv6conn)
		}()
	}
}

// MARK: receiverCount
func (ns *netserver) receiverCount() int {
	count := 0
	if ns.ipv4conn != nil {
		count++
	}
	if ns.ipv6conn != nil {
		count++
	}
	return count
}

// MARK: recv
// Long-running packet reader for one socket. Exits when the socket closes.
func (ns *netserver) recv(c *net.UDPConn) {
	buf := make([]byte, 65536)
	for {
		select {
		case <-ns.stopCh:
			return
		default:
		}

		n, from, err := c.ReadFrom(buf)
		if err != nil {
			select {
			case <-ns.stopCh:
				return
			default:
				continue
			}
		}

		msg := new(dns.Msg)
		if err := msg.Unpack(buf[:n]); err != nil {
			// Malformed packets are tolerated, not propagated.
			ns.logger.Debug("Dropping unparseable mDNS packet", "from", from.String(), "error", err)
			continue
		}

		select {
		case ns.msgCh <- &incomingMsg{msg: msg, from: from}:
		case <-ns.stopCh:
			return
		}
	}
}

// MARK: send
// Packs and multicasts a DNS message on every bound socket.
func (ns *netserver) send(msg *dns.Msg) error {
	buf, err := msg.Pack()
	if err != nil {
		return fmt.Errorf("packing mDNS message: %w", err)
	}
	if ns.ipv4conn != nil {
		_, _ = ns.ipv4conn.WriteTo(buf, ipv4Addr)
	}
	if ns.ipv6conn != nil {
		_, _ = ns.ipv6conn.WriteTo(buf, ipv6Addr)
	}
	return nil
}

// MARK: shutdown
// Closes the sockets, which unblocks the receive loops.
func (ns *netserver) shutdown() {
	close(ns.stopCh)
	if ns.ipv4conn != nil {
		ns.ipv4conn.Close()
	}
	if ns.ipv6conn != nil {
		ns.ipv6conn.Close()
	}
}

package listener

import "net"

// gatedListener closes accepted connections while refuse reports true.
type gatedListener struct {
	net.Listener
	refuse func() bool
}

func (g *gatedListener) Accept() (net.Conn, error) {
	for {
		conn, err := g.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if !g.refuse() {
			return conn, nil
		}
		conn.Close()
	}
}

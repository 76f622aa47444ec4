// Package tor routes HTTP requests through a locally running Tor SOCKS proxy
// and verifies that the routing actually anonymizes traffic.
//
// A Client is built with an ordered list of candidate loopback ports
// (9150 for Tor Browser, then 9050 for the Tor service by default).
// VerifyConnection fetches the caller's IP directly, then through each port
// in turn, and activates the first port whose exit IP differs. Requests are
// only ever sent through that verified port, using socks5h so that hostnames
// are resolved by Tor rather than locally.
//
//	client, err := tor.NewClient()
//	if err != nil {
//	    return err
//	}
//	if !client.VerifyConnection(ctx) {
//	    return tor.ErrConnectionFailed
//	}
//	resp, err := client.Get(ctx, "https://example.com")
//
// The package neither launches nor manages a Tor process. Tor is expected to
// be running already.
package tor

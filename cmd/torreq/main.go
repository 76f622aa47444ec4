// Package main provides the entry point for the torreq CLI.
//
// torreq sends HTTP requests through a local Tor SOCKS proxy after checking
// that the proxy really changes the public IP address.
//
// Usage:
//
//	torreq check
//	torreq get https://check.torproject.org/
//	torreq post --json '{"key":"value"}' https://example.com/api
//
// See --help for all available options.
package main

func main() {
	Execute()
}

// Package fetch sends requests through a verified Tor client and collects
// the responses, fetching several targets concurrently and extracting the
// title and .onion links of HTML pages.
package fetch

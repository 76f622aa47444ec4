// Package report renders verification results, SOCKS5 port probes and
// verification history.
//
// Writers implement the Writer interface:
//   - SimpleWriter: colored text for terminal display
//   - JSONWriter: structured JSON for tool integration
//   - MarkdownWriter: GitHub Flavored Markdown with tables and alerts
package report

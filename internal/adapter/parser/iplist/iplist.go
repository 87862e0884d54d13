package iplist

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"regexp"
)

// maxLineSize bounds a single line of uploaded input
const maxLineSize = 1024 * 1024

var ipv4Pattern = regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`)

// Result is the outcome of extracting IPs from free text
type Result struct {
	IPs      []string `json:"ips"`      // valid, deduplicated, in first-seen order
	Rejected []string `json:"rejected"` // IPv4-shaped tokens with an invalid octet
}

// Extract finds every IPv4 address in text
func Extract(text string) Result {
	c := newCollector()
	c.scan(text)
	return c.result()
}

// ExtractReader finds every IPv4 address in r, line by line
func ExtractReader(r io.Reader) (Result, error) {
	c := newCollector()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		c.scan(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("read ip list: %w", err)
	}

	return c.result(), nil
}

type collector struct {
	seen     map[string]bool
	ips      []string
	rejected []string
}

func newCollector() *collector {
	return &collector{seen: make(map[string]bool)}
}

func (c *collector) scan(text string) {
	for _, token := range ipv4Pattern.FindAllString(text, -1) {
		if c.seen[token] {
			continue
		}
		c.seen[token] = true

		if net.ParseIP(token).To4() == nil {
			c.rejected = append(c.rejected, token)
			continue
		}
		c.ips = append(c.ips, token)
	}
}

func (c *collector) result() Result {
	res := Result{IPs: c.ips, Rejected: c.rejected}
	if res.IPs == nil {
		res.IPs = []string{}
	}
	if res.Rejected == nil {
		res.Rejected = []string{}
	}
	return res
}

// Package monitor fetches and decodes the "cn=monitor" entry a directory
// server exposes for health inspection.
package monitor

import (
	"fmt"
	"strconv"
	"time"

	ldapv3 "github.com/go-ldap/ldap/v3"
)

// EntryDN is the DN of the general monitor entry.
const EntryDN = "cn=monitor"

const generalizedTimeLayout = "20060102150405Z"

// GeneralMonitorEntry holds the decoded general monitor entry.
type GeneralMonitorEntry struct {
	ProductName        string
	ProductVersion     string
	StartTime          time.Time
	CurrentConnections int64
	TotalConnections   int64
}

// Uptime returns how long the server had been running as of now, or zero
// when the entry carried no start time.
func (e *GeneralMonitorEntry) Uptime(now time.Time) time.Duration {
	if e.StartTime.IsZero() {
		return 0
	}
	return now.Sub(e.StartTime)
}

// Get fetches the general monitor entry over an authenticated connection.
func Get(conn *ldapv3.Conn) (*GeneralMonitorEntry, error) {
	result, err := conn.Search(ldapv3.NewSearchRequest(
		EntryDN, ldapv3.ScopeBaseObject, ldapv3.NeverDerefAliases, 0, 0, false,
		"(objectClass=*)", nil, nil))
	if err != nil {
		return nil, fmt.Errorf("monitor: fetching %s: %w", EntryDN, err)
	}
	if len(result.Entries) != 1 {
		return nil, fmt.Errorf("monitor: the server returned %d entries for %s", len(result.Entries), EntryDN)
	}
	return decodeEntry(result.Entries[0])
}

func decodeEntry(entry *ldapv3.Entry) (*GeneralMonitorEntry, error) {
	e := &GeneralMonitorEntry{
		ProductName:    entry.GetAttributeValue("productName"),
		ProductVersion: entry.GetAttributeValue("productVersion"),
	}
	if value := entry.GetAttributeValue("startTime"); value != "" {
		startTime, err := time.Parse(generalizedTimeLayout, value)
		if err != nil {
			return nil, fmt.Errorf("monitor: parsing the startTime attribute %q: %w", value, err)
		}
		e.StartTime = startTime
	}
	var err error
	if e.CurrentConnections, err = intAttribute(entry, "currentConnections"); err != nil {
		return nil, err
	}
	if e.TotalConnections, err = intAttribute(entry, "totalConnections"); err != nil {
		return nil, err
	}
	return e, nil
}

func intAttribute(entry *ldapv3.Entry, name string) (int64, error) {
	value := entry.GetAttributeValue(name)
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("monitor: parsing the %s attribute %q: %w", name, value, err)
	}
	return parsed, nil
}

package directory

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/glauth/ldap"

	authx "github.com/christian-2/ldap-authx"
)

type attributePair struct {
	name  string
	value string
}

func newAttribute(name string, values ...string) *ldap.EntryAttribute {
	return &ldap.EntryAttribute{Name: name, Values: values}
}

func buildAttributesFromPairs(pairs []attributePair) []*ldap.EntryAttribute {
	attributes := make([]*ldap.EntryAttribute, 0, len(pairs))
	for _, pair := range pairs {
		if pair.value == "" {
			continue
		}
		attributes = append(attributes, newAttribute(pair.name, pair.value))
	}
	return attributes
}

// escapeRDNValue escapes special characters in an RDN attribute value
// according to RFC 4514.
func escapeRDNValue(value string) string {
	var builder strings.Builder
	for i, r := range value {
		switch r {
		case '\\', ',', '#', '+', ';', '<', '>', '=', '"':
			builder.WriteRune('\\')
			builder.WriteRune(r)
		case ' ':
			if i == 0 || i == len(value)-1 {
				builder.WriteString("\\ ")
			} else {
				builder.WriteRune(' ')
			}
		default:
			if r < 0x20 {
				builder.WriteString(fmt.Sprintf("\\%02x", r))
			} else {
				builder.WriteRune(r)
			}
		}
	}
	return builder.String()
}

func (s *Server) peopleDN() string {
	return "ou=People," + s.cfg.BaseDN
}

func (s *Server) userDN(username string) string {
	return fmt.Sprintf("uid=%s,%s", escapeRDNValue(username), s.peopleDN())
}

func (s *Server) accountToEntry(acct *account) *ldap.Entry {
	commonName := strings.TrimSpace(acct.GivenName + " " + acct.Surname)
	if commonName == "" {
		commonName = acct.Username
	}
	entry := &ldap.Entry{
		DN: acct.dn,
		Attributes: buildAttributesFromPairs([]attributePair{
			{"uid", acct.Username},
			{"cn", commonName},
			{"sn", acct.Surname},
			{"givenName", acct.GivenName},
			{"mail", acct.Mail},
			{"mobile", acct.Mobile},
		}),
	}
	entry.Attributes = append(entry.Attributes,
		newAttribute("objectClass", "top", "person", "organizationalPerson", "inetOrgPerson"))
	return entry
}

func (s *Server) baseEntry() *ldap.Entry {
	rdn, _, _ := strings.Cut(s.cfg.BaseDN, ",")
	name, value, _ := strings.Cut(rdn, "=")
	return &ldap.Entry{
		DN: s.cfg.BaseDN,
		Attributes: []*ldap.EntryAttribute{
			newAttribute("objectClass", "top", "domain"),
			newAttribute(strings.TrimSpace(name), strings.TrimSpace(value)),
		},
	}
}

func (s *Server) peopleEntry() *ldap.Entry {
	return &ldap.Entry{
		DN: s.peopleDN(),
		Attributes: []*ldap.EntryAttribute{
			newAttribute("objectClass", "top", "organizationalUnit"),
			newAttribute("ou", "People"),
		},
	}
}

// rootDSEEntry advertises the naming contexts and the SASL mechanisms,
// extended operations and controls this server supports.
func (s *Server) rootDSEEntry() *ldap.Entry {
	return &ldap.Entry{
		DN: "",
		Attributes: []*ldap.EntryAttribute{
			newAttribute("objectClass", "top", "ds-root-dse"),
			newAttribute("namingContexts", s.cfg.BaseDN, monitorDN),
			newAttribute("supportedLDAPVersion", "3"),
			newAttribute("supportedSASLMechanisms", authx.SASLMechanisms()...),
			newAttribute("supportedExtension",
				authx.DeliverOTPRequestOID,
				authx.DeliverPasswordResetTokenRequestOID),
			newAttribute("supportedControl",
				authx.ControlTypeAssuredReplicationResponse),
			newAttribute("vendorName", "ldap-authx"),
		},
	}
}

const (
	monitorDN             = "cn=monitor"
	productName           = "ldap-authx directory"
	productVersion        = "0.4.0"
	generalizedTimeLayout = "20060102150405Z"
)

// monitorEntry reports live server statistics in the shape of a
// "cn=monitor" general monitor entry.
func (s *Server) monitorEntry() *ldap.Entry {
	s.mu.Lock()
	current := len(s.conns)
	s.mu.Unlock()
	return &ldap.Entry{
		DN: monitorDN,
		Attributes: []*ldap.EntryAttribute{
			newAttribute("objectClass", "top", "ds-general-monitor-entry"),
			newAttribute("cn", "monitor"),
			newAttribute("productName", productName),
			newAttribute("productVersion", productVersion),
			newAttribute("startTime", s.startTime.UTC().Format(generalizedTimeLayout)),
			newAttribute("currentConnections", strconv.Itoa(current)),
			newAttribute("totalConnections", strconv.FormatUint(s.totalConns.Load(), 10)),
		},
	}
}

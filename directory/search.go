package directory

import (
	"fmt"
	"strings"

	"github.com/glauth/ldap"
	ber "github.com/go-asn1-ber/asn1-ber"
	ldapv3 "github.com/go-ldap/ldap/v3"

	authx "github.com/christian-2/ldap-authx"
)

type searchRequest struct {
	baseDN       string
	scope        int64
	derefAliases int64
	sizeLimit    int64
	timeLimit    int64
	typesOnly    bool
	filter       string
	attributes   []string
}

func parseSearchRequest(op *ber.Packet) (*searchRequest, error) {
	if len(op.Children) != 8 {
		return nil, fmt.Errorf("a search request must have 8 elements, not %d", len(op.Children))
	}
	baseDN, ok := op.Children[0].Value.(string)
	if !ok {
		return nil, fmt.Errorf("the search base is not an octet string")
	}
	scope, ok := op.Children[1].Value.(int64)
	if !ok {
		return nil, fmt.Errorf("the search scope is not an enumeration")
	}
	derefAliases, ok := op.Children[2].Value.(int64)
	if !ok {
		return nil, fmt.Errorf("the alias dereferencing policy is not an enumeration")
	}
	sizeLimit, ok := op.Children[3].Value.(int64)
	if !ok {
		return nil, fmt.Errorf("the size limit is not an integer")
	}
	timeLimit, ok := op.Children[4].Value.(int64)
	if !ok {
		return nil, fmt.Errorf("the time limit is not an integer")
	}
	typesOnly, ok := op.Children[5].Value.(bool)
	if !ok {
		return nil, fmt.Errorf("the typesOnly flag is not a boolean")
	}
	filter, err := ldap.DecompileFilter(op.Children[6])
	if err != nil {
		return nil, fmt.Errorf("decompiling the search filter: %w", err)
	}
	var attributes []string
	for _, child := range op.Children[7].Children {
		attribute, ok := child.Value.(string)
		if !ok {
			return nil, fmt.Errorf("a requested attribute is not an octet string")
		}
		attributes = append(attributes, attribute)
	}
	return &searchRequest{
		baseDN:       baseDN,
		scope:        scope,
		derefAliases: derefAliases,
		sizeLimit:    sizeLimit,
		timeLimit:    timeLimit,
		typesOnly:    typesOnly,
		filter:       filter,
		attributes:   attributes,
	}, nil
}

func (req *searchRequest) isRootDSESearch() bool {
	return req.baseDN == "" && req.scope == int64(ldap.ScopeBaseObject)
}

// search evaluates a request against the served entries. It returns the
// matching entries together with the result for the search result done
// message.
func (s *Server) search(boundDN string, req *searchRequest) ([]*ldap.Entry, authx.Result) {
	if req.isRootDSESearch() {
		entries, err := filterEntriesForRequest(req, []*ldap.Entry{s.rootDSEEntry()})
		if err != nil {
			return nil, authx.Result{Code: authx.ResultOperationsError, DiagnosticMessage: err.Error()}
		}
		return entries, authx.Result{Code: authx.ResultSuccess}
	}
	if boundDN == "" {
		return nil, authx.Result{
			Code:              authx.ResultInsufficientAccessRights,
			DiagnosticMessage: "authentication is required to search the directory",
		}
	}
	if isDescendantOrSelf(req.baseDN, monitorDN) {
		entries, err := filterEntriesForRequest(req, []*ldap.Entry{s.monitorEntry()})
		if err != nil {
			return nil, authx.Result{Code: authx.ResultOperationsError, DiagnosticMessage: err.Error()}
		}
		return entries, authx.Result{Code: authx.ResultSuccess}
	}
	if !isDescendantOrSelf(req.baseDN, s.cfg.BaseDN) {
		return nil, authx.Result{
			Code:              authx.ResultNoSuchObject,
			DiagnosticMessage: fmt.Sprintf("%q is not within the %q naming context", req.baseDN, s.cfg.BaseDN),
		}
	}
	entries, err := filterEntriesForRequest(req, s.entries())
	if err != nil {
		return nil, authx.Result{Code: authx.ResultOperationsError, DiagnosticMessage: err.Error()}
	}
	return entries, authx.Result{Code: authx.ResultSuccess}
}

func filterEntriesForRequest(req *searchRequest, entries []*ldap.Entry) ([]*ldap.Entry, error) {
	filterPacket, err := ldap.CompileFilter(req.filter)
	if err != nil {
		return nil, fmt.Errorf("compiling the search filter: %w", err)
	}
	var matched []*ldap.Entry
	for _, entry := range entries {
		switch req.scope {
		case int64(ldap.ScopeWholeSubtree):
			if !isDescendantOrSelf(entry.DN, req.baseDN) {
				continue
			}
		case int64(ldap.ScopeBaseObject):
			if !strings.EqualFold(entry.DN, req.baseDN) {
				continue
			}
		case int64(ldap.ScopeSingleLevel):
			if !isSingleLevelScopeMatch(entry.DN, req.baseDN) {
				continue
			}
		default:
			return nil, fmt.Errorf("unsupported search scope %d", req.scope)
		}
		keep, resultCode := ldap.ServerApplyFilter(filterPacket, entry)
		if resultCode != ldap.LDAPResultSuccess {
			return nil, fmt.Errorf("applying the search filter failed with result code %d", resultCode)
		}
		if !keep {
			continue
		}
		matched = append(matched, entry)
		if req.sizeLimit > 0 && int64(len(matched)) >= req.sizeLimit {
			break
		}
	}
	return matched, nil
}

func isDescendantOrSelf(entryDN, baseDN string) bool {
	if strings.EqualFold(entryDN, baseDN) {
		return true
	}
	return strings.HasSuffix(strings.ToLower(entryDN), ","+strings.ToLower(baseDN))
}

func isSingleLevelScopeMatch(entryDN, baseDN string) bool {
	entry, err := ldapv3.ParseDN(entryDN)
	if err != nil {
		return false
	}
	base, err := ldapv3.ParseDN(baseDN)
	if err != nil {
		return false
	}
	if len(entry.RDNs) != len(base.RDNs)+1 {
		return false
	}
	for i, rdn := range base.RDNs {
		if !strings.EqualFold(rdn.String(), entry.RDNs[i+1].String()) {
			return false
		}
	}
	return true
}

func selectAttributes(entry *ldap.Entry, requested []string) *ldap.Entry {
	if len(requested) == 0 {
		return entry
	}
	for _, name := range requested {
		if name == "*" {
			return entry
		}
	}
	selected := &ldap.Entry{DN: entry.DN}
	for _, attribute := range entry.Attributes {
		for _, name := range requested {
			if strings.EqualFold(attribute.Name, name) {
				selected.Attributes = append(selected.Attributes, attribute)
				break
			}
		}
	}
	return selected
}

func searchEntryOp(entry *ldap.Entry, typesOnly bool) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, authx.ApplicationSearchResultEntry, nil, "Search Result Entry")
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, entry.DN, "objectName"))
	attributes := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "attributes")
	for _, attribute := range entry.Attributes {
		pair := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSequence, nil, "PartialAttribute")
		pair.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, attribute.Name, "type"))
		values := ber.Encode(ber.ClassUniversal, ber.TypeConstructed, ber.TagSet, nil, "vals")
		if !typesOnly {
			for _, value := range attribute.Values {
				values.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, value, "AttributeValue"))
			}
		}
		pair.AppendChild(values)
		attributes.AppendChild(pair)
	}
	op.AppendChild(attributes)
	return op
}

func searchDoneOp(res authx.Result) *ber.Packet {
	op := ber.Encode(ber.ClassApplication, ber.TypeConstructed, authx.ApplicationSearchResultDone, nil, "Search Result Done")
	op.AppendChild(ber.NewInteger(ber.ClassUniversal, ber.TypePrimitive, ber.TagEnumerated, int64(res.Code), "resultCode"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, res.MatchedDN, "matchedDN"))
	op.AppendChild(ber.NewString(ber.ClassUniversal, ber.TypePrimitive, ber.TagOctetString, res.DiagnosticMessage, "diagnosticMessage"))
	return op
}
